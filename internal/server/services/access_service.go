package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kamikazebr/madric/internal/server/metrics"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
)

// Deny reasons
const (
	ReasonNoVoucher = "no voucher"
	ReasonExpired   = "expired"
)

// AccessService answers whether a MAC currently holds a grant.
// CheckAccess only reads; the synchronizer polls it for every host each interval.
type AccessService struct {
	vouchers storage.VoucherStore
	hosts    *HostCache
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewAccessService builds the evaluator. hosts may be nil.
func NewAccessService(vouchers storage.VoucherStore, hosts *HostCache, m *metrics.Metrics) *AccessService {
	return &AccessService{
		vouchers: vouchers,
		hosts:    hosts,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps and expiry
func (s *AccessService) SetClock(now func() time.Time) {
	s.now = now
}

// CheckAccess evaluates the most recent redemption by mac.
// The grant covers [usedAt, usedAt+duration).
func (s *AccessService) CheckAccess(ctx context.Context, mac string) (*models.AccessGrant, error) {
	normalized, err := utils.NormalizeMAC(mac)
	if err != nil {
		return nil, invalid("mac", "%v", err)
	}

	voucher, err := s.vouchers.LatestRedemption(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up redemption: %w", err)
	}

	grant := evaluate(normalized, voucher, s.now())
	s.metrics.AccessCheck(grant.Allow, grant.Reason)
	return grant, nil
}

// RecordPoll notes that the router asked about mac
func (s *AccessService) RecordPoll(grant *models.AccessGrant) {
	s.hosts.Seen(grant.MAC, grant.Allow)
}

func evaluate(mac string, voucher *models.Voucher, now time.Time) *models.AccessGrant {
	grant := &models.AccessGrant{MAC: mac, Voucher: voucher}
	if voucher == nil {
		grant.Reason = ReasonNoVoucher
		return grant
	}

	expiresAt, ok := voucher.ExpiresAt()
	if !ok {
		grant.Reason = ReasonNoVoucher
		return grant
	}
	grant.ExpiresAt = &expiresAt

	if !now.Before(expiresAt) {
		grant.Reason = ReasonExpired
		return grant
	}
	grant.Allow = true
	grant.Remaining = expiresAt.Sub(now)
	return grant
}
