package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kamikazebr/madric/pkg/models"
	"github.com/lib/pq"
)

type VoucherRepository struct {
	db *DB
}

func NewVoucherRepository(db *DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) Create(ctx context.Context, voucher *models.Voucher) error {
	query := `
		INSERT INTO vouchers (code, amount, duration_minutes, used, created_at)
		VALUES ($1, $2, $3, false, $4)
	`
	_, err := r.db.ExecContext(ctx, query, voucher.Code, voucher.Amount, voucher.DurationMinutes, voucher.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrVoucherExists
		}
		return err
	}
	voucher.Used = false
	voucher.UsedAt = nil
	voucher.UsedBy = nil
	return nil
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	query := `SELECT * FROM vouchers WHERE code = $1`
	err := r.db.GetContext(ctx, &voucher, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

// Redeem is a conditional update on used = false; the row lock taken by UPDATE
// makes concurrent redemptions of one code serialize, and only the first matches.
func (r *VoucherRepository) Redeem(ctx context.Context, code, mac string, at time.Time) (*models.Voucher, error) {
	var voucher models.Voucher
	query := `
		UPDATE vouchers
		SET used = true, used_at = $2, used_by = $3
		WHERE code = $1 AND used = false
		RETURNING *
	`
	err := r.db.GetContext(ctx, &voucher, query, code, at, mac)
	if err == nil {
		return &voucher, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// No row updated: either the code is unknown or someone else won
	existing, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrVoucherNotFound
	}
	return nil, ErrVoucherAlreadyUsed
}

func (r *VoucherRepository) LatestRedemption(ctx context.Context, mac string) (*models.Voucher, error) {
	var voucher models.Voucher
	query := `
		SELECT * FROM vouchers
		WHERE used = true AND used_by = $1
		ORDER BY used_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &voucher, query, mac)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

func (r *VoucherRepository) List(ctx context.Context, filter models.VoucherFilter) ([]models.Voucher, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Used != nil {
		args = append(args, *filter.Used)
		conditions = append(conditions, fmt.Sprintf("used = $%d", len(args)))
	}
	if filter.UsedBy != nil {
		args = append(args, *filter.UsedBy)
		conditions = append(conditions, fmt.Sprintf("used_by = $%d", len(args)))
	}

	query := `SELECT * FROM vouchers`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, code`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var vouchers []models.Voucher
	err := r.db.SelectContext(ctx, &vouchers, query, args...)
	return vouchers, err
}
