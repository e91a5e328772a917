package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kamikazebr/madric/pkg/models"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrVoucherAlreadyUsed = errors.New("voucher already used")
	ErrVoucherExists      = errors.New("voucher code already exists")
)

// DeviceStore persists router devices. Lookups return nil, nil when the device does not exist.
type DeviceStore interface {
	// CreateIfAbsent stores device as given unless the id is taken. Either way device
	// is overwritten with the stored record; created reports whether it was inserted.
	CreateIfAbsent(ctx context.Context, device *models.Device) (created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Device, error)
	// MarkConnected moves a device to connected. connectedAt is only set the first
	// time; ip is refreshed whenever a non-nil value is given. firstConnect is true
	// for exactly one caller: the one whose update moved the device out of pending.
	MarkConnected(ctx context.Context, id string, ip *string, at time.Time) (device *models.Device, firstConnect bool, err error)
	List(ctx context.Context, limit int) ([]models.Device, error)
}

// VoucherStore persists vouchers. Lookups return nil, nil when the voucher does not exist.
type VoucherStore interface {
	Create(ctx context.Context, voucher *models.Voucher) error
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	// Redeem atomically flips an unused voucher to used and binds it to mac.
	// Of any number of concurrent calls for one code exactly one succeeds;
	// the rest get ErrVoucherAlreadyUsed.
	Redeem(ctx context.Context, code, mac string, at time.Time) (*models.Voucher, error)
	// LatestRedemption returns the voucher most recently redeemed by mac
	LatestRedemption(ctx context.Context, mac string) (*models.Voucher, error)
	List(ctx context.Context, filter models.VoucherFilter) ([]models.Voucher, error)
}

// Store bundles the repositories of one backend
type Store interface {
	Devices() DeviceStore
	Vouchers() VoucherStore
	Ping(ctx context.Context) error
	Close() error
}
