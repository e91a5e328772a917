package models

import (
	"math"
	"time"
)

// maxDurationMinutes is the largest minute count a time.Duration can hold
const maxDurationMinutes = math.MaxInt64 / int64(time.Minute)

// Voucher is a prepaid, single-use grant of network access.
// Once Used is true, Code, UsedAt and UsedBy never change.
type Voucher struct {
	Code            string     `json:"code" db:"code" firestore:"code"`
	Amount          float64    `json:"amount" db:"amount" firestore:"amount"`
	DurationMinutes int        `json:"durationMinutes" db:"duration_minutes" firestore:"durationMinutes"`
	Used            bool       `json:"used" db:"used" firestore:"used"`
	UsedAt          *time.Time `json:"usedAt,omitempty" db:"used_at" firestore:"usedAt,omitempty"`
	UsedBy          *string    `json:"usedBy,omitempty" db:"used_by" firestore:"usedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at" firestore:"createdAt"`
}

// Duration returns the access time the voucher grants, saturating at the
// largest representable duration
func (v *Voucher) Duration() time.Duration {
	if int64(v.DurationMinutes) > maxDurationMinutes {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v.DurationMinutes) * time.Minute
}

// ExpiresAt returns usedAt + duration. ok is false for unused vouchers.
func (v *Voucher) ExpiresAt() (expiresAt time.Time, ok bool) {
	if !v.Used || v.UsedAt == nil {
		return time.Time{}, false
	}
	return v.UsedAt.Add(v.Duration()), true
}

// VoucherFilter narrows voucher listings. Nil fields match everything.
type VoucherFilter struct {
	Used   *bool
	UsedBy *string
	Limit  int
}

// AccessGrant is the derived authorization state for a MAC address.
// It is never stored; it is computed from the most recent redemption.
type AccessGrant struct {
	MAC       string
	Allow     bool
	Remaining time.Duration
	ExpiresAt *time.Time
	Reason    string
	Voucher   *Voucher
}

// RemainingSeconds is Remaining floored to whole seconds
func (g *AccessGrant) RemainingSeconds() int64 {
	return int64(g.Remaining / time.Second)
}
