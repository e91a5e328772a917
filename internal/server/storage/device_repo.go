package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kamikazebr/madric/pkg/models"
)

type DeviceRepository struct {
	db *DB
}

func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) CreateIfAbsent(ctx context.Context, device *models.Device) (bool, error) {
	query := `
		INSERT INTO devices (id, status, ip, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, device.ID, device.Status, device.IP, device.CreatedAt)
	if err != nil {
		return false, err
	}
	rowsAffected, _ := result.RowsAffected()

	stored, err := r.GetByID(ctx, device.ID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, ErrDeviceNotFound
	}
	*device = *stored
	return rowsAffected == 1, nil
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	query := `SELECT * FROM devices WHERE id = $1`
	err := r.db.GetContext(ctx, &device, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

type markConnectedRow struct {
	models.Device
	FirstConnect bool `db:"first_connect"`
}

// MarkConnected never moves a device back to pending and keeps the first connected_at.
// The row lock taken by prev makes a concurrent caller see the committed status.
func (r *DeviceRepository) MarkConnected(ctx context.Context, id string, ip *string, at time.Time) (*models.Device, bool, error) {
	var row markConnectedRow
	query := `
		WITH prev AS (
			SELECT id, status FROM devices WHERE id = $1 FOR UPDATE
		)
		UPDATE devices d
		SET status = 'connected',
		    ip = COALESCE($2, d.ip),
		    connected_at = COALESCE(d.connected_at, $3)
		FROM prev
		WHERE d.id = prev.id
		RETURNING d.id, d.status, d.ip, d.created_at, d.connected_at,
		          prev.status <> 'connected' AS first_connect
	`
	err := r.db.GetContext(ctx, &row, query, id, ip, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrDeviceNotFound
		}
		return nil, false, err
	}
	return &row.Device, row.FirstConnect, nil
}

func (r *DeviceRepository) List(ctx context.Context, limit int) ([]models.Device, error) {
	if limit <= 0 {
		limit = 100
	}
	var devices []models.Device
	query := `SELECT * FROM devices ORDER BY created_at DESC LIMIT $1`
	err := r.db.SelectContext(ctx, &devices, query, limit)
	return devices, err
}
