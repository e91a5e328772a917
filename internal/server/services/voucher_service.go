package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kamikazebr/madric/internal/server/metrics"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
	"go.uber.org/zap"
)

const (
	VoucherCodeLength = 8
	MaxIssueCount     = 1000

	// MaxDurationMinutes is ten years of access
	MaxDurationMinutes = 10 * 365 * 24 * 60

	issueAttempts = 5
)

type VoucherService struct {
	vouchers storage.VoucherStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewVoucherService(vouchers storage.VoucherStore, m *metrics.Metrics, logger *zap.Logger) *VoucherService {
	return &VoucherService{
		vouchers: vouchers,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps and expiry
func (s *VoucherService) SetClock(now func() time.Time) {
	s.now = now
}

// Redeem binds an unused voucher to mac. Exactly one of several concurrent
// redemptions of the same code succeeds; the others get ErrVoucherAlreadyUsed.
func (s *VoucherService) Redeem(ctx context.Context, code, mac string) (*models.Voucher, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.metrics.Redemption(metrics.OutcomeInvalid)
		return nil, invalid("code", "is required")
	}
	normalized, err := utils.NormalizeMAC(mac)
	if err != nil {
		s.metrics.Redemption(metrics.OutcomeInvalid)
		return nil, invalid("mac", "%v", err)
	}

	voucher, err := s.vouchers.Redeem(ctx, code, normalized, s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrVoucherNotFound):
		s.metrics.Redemption(metrics.OutcomeNotFound)
		return nil, ErrVoucherNotFound
	case errors.Is(err, storage.ErrVoucherAlreadyUsed):
		s.metrics.Redemption(metrics.OutcomeAlreadyUsed)
		return nil, ErrVoucherAlreadyUsed
	default:
		s.metrics.Redemption(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to redeem voucher: %w", err)
	}

	s.metrics.Redemption(metrics.OutcomeSuccess)
	s.logger.Info("Voucher redeemed",
		zap.String("code", code),
		zap.String("mac", normalized),
		zap.Int("duration_minutes", voucher.DurationMinutes),
	)
	return voucher, nil
}

// Issue generates count fresh vouchers
func (s *VoucherService) Issue(ctx context.Context, count int, amount float64, durationMinutes int) ([]models.Voucher, error) {
	if count < 1 || count > MaxIssueCount {
		return nil, invalid("count", "must be between 1 and %d", MaxIssueCount)
	}
	if amount < 0 {
		return nil, invalid("amount", "must not be negative")
	}
	if durationMinutes < 0 || durationMinutes > MaxDurationMinutes {
		return nil, invalid("durationMinutes", "must be between 0 and %d", MaxDurationMinutes)
	}

	issued := make([]models.Voucher, 0, count)
	for i := 0; i < count; i++ {
		voucher, err := s.issueOne(ctx, amount, durationMinutes)
		if err != nil {
			s.metrics.VouchersIssued(len(issued))
			return issued, err
		}
		issued = append(issued, *voucher)
	}

	s.metrics.VouchersIssued(len(issued))
	s.logger.Info("Vouchers issued",
		zap.Int("count", len(issued)),
		zap.Float64("amount", amount),
		zap.Int("duration_minutes", durationMinutes),
	)
	return issued, nil
}

func (s *VoucherService) issueOne(ctx context.Context, amount float64, durationMinutes int) (*models.Voucher, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		code, err := utils.GenerateVoucherCode(VoucherCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate voucher code: %w", err)
		}

		voucher := &models.Voucher{
			Code:            code,
			Amount:          amount,
			DurationMinutes: durationMinutes,
			CreatedAt:       s.now().UTC(),
		}
		err = s.vouchers.Create(ctx, voucher)
		if err == nil {
			return voucher, nil
		}
		if !errors.Is(err, storage.ErrVoucherExists) {
			return nil, fmt.Errorf("failed to save voucher: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to generate a unique voucher code after %d attempts", issueAttempts)
}

func (s *VoucherService) List(ctx context.Context, filter models.VoucherFilter) ([]models.Voucher, error) {
	if filter.UsedBy != nil {
		mac, err := utils.NormalizeMAC(*filter.UsedBy)
		if err != nil {
			return nil, invalid("usedBy", "%v", err)
		}
		filter.UsedBy = &mac
	}
	vouchers, err := s.vouchers.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	return vouchers, nil
}
