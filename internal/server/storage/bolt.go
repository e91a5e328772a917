package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kamikazebr/madric/pkg/models"
	"go.etcd.io/bbolt"
)

var (
	bucketDevices       = []byte("devices")
	bucketVouchers      = []byte("vouchers")
	bucketVouchersByMAC = []byte("idx_vouchers_by_mac")
)

// redemptionKeyTime sorts lexically in time order
const redemptionKeyTime = "20060102T150405.000000000"

// BoltStore is a single-file embedded Store. bbolt runs one writer at a time,
// so the read-check-write inside an Update transaction is atomic.
type BoltStore struct {
	db       *bbolt.DB
	devices  *boltDevices
	vouchers *boltVouchers
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketDevices, bucketVouchers, bucketVouchersByMAC} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &BoltStore{
		db:       db,
		devices:  &boltDevices{db: db},
		vouchers: &boltVouchers{db: db},
	}, nil
}

func (s *BoltStore) Devices() DeviceStore   { return s.devices }
func (s *BoltStore) Vouchers() VoucherStore { return s.vouchers }

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltDevices struct {
	db *bbolt.DB
}

func getDevice(b *bbolt.Bucket, id string) (*models.Device, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var device models.Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("corrupt device %s: %w", id, err)
	}
	return &device, nil
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (r *boltDevices) CreateIfAbsent(ctx context.Context, device *models.Device) (bool, error) {
	created := false
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		existing, err := getDevice(b, device.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			*device = *existing
			return nil
		}
		created = true
		return putJSON(b, device.ID, device)
	})
	return created, err
}

func (r *boltDevices) GetByID(ctx context.Context, id string) (*models.Device, error) {
	var device *models.Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		device, err = getDevice(tx.Bucket(bucketDevices), id)
		return err
	})
	return device, err
}

func (r *boltDevices) MarkConnected(ctx context.Context, id string, ip *string, at time.Time) (*models.Device, bool, error) {
	var (
		device       *models.Device
		firstConnect bool
	)
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		var err error
		device, err = getDevice(b, id)
		if err != nil {
			return err
		}
		if device == nil {
			return ErrDeviceNotFound
		}
		firstConnect = !device.IsConnected()
		device.Status = models.DeviceStatusConnected
		if ip != nil {
			device.IP = ip
		}
		if device.ConnectedAt == nil {
			connectedAt := at
			device.ConnectedAt = &connectedAt
		}
		return putJSON(b, id, device)
	})
	if err != nil {
		return nil, false, err
	}
	return device, firstConnect, nil
}

func (r *boltDevices) List(ctx context.Context, limit int) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var device models.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return fmt.Errorf("corrupt device %s: %w", k, err)
			}
			devices = append(devices, device)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].CreatedAt.After(devices[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 100
	}
	if len(devices) > limit {
		devices = devices[:limit]
	}
	return devices, nil
}

type boltVouchers struct {
	db *bbolt.DB
}

func getVoucher(b *bbolt.Bucket, code string) (*models.Voucher, error) {
	data := b.Get([]byte(code))
	if data == nil {
		return nil, nil
	}
	var voucher models.Voucher
	if err := json.Unmarshal(data, &voucher); err != nil {
		return nil, fmt.Errorf("corrupt voucher %s: %w", code, err)
	}
	return &voucher, nil
}

func redemptionKey(mac string, usedAt time.Time, code string) []byte {
	return []byte(mac + "/" + usedAt.UTC().Format(redemptionKeyTime) + "/" + code)
}

func (r *boltVouchers) Create(ctx context.Context, voucher *models.Voucher) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVouchers)
		if b.Get([]byte(voucher.Code)) != nil {
			return ErrVoucherExists
		}
		voucher.Used = false
		voucher.UsedAt = nil
		voucher.UsedBy = nil
		return putJSON(b, voucher.Code, voucher)
	})
}

func (r *boltVouchers) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher *models.Voucher
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		voucher, err = getVoucher(tx.Bucket(bucketVouchers), code)
		return err
	})
	return voucher, err
}

func (r *boltVouchers) Redeem(ctx context.Context, code, mac string, at time.Time) (*models.Voucher, error) {
	var voucher *models.Voucher
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVouchers)
		var err error
		voucher, err = getVoucher(b, code)
		if err != nil {
			return err
		}
		if voucher == nil {
			return ErrVoucherNotFound
		}
		if voucher.Used {
			return ErrVoucherAlreadyUsed
		}

		usedAt := at
		usedBy := mac
		voucher.Used = true
		voucher.UsedAt = &usedAt
		voucher.UsedBy = &usedBy
		if err := putJSON(b, code, voucher); err != nil {
			return err
		}
		return tx.Bucket(bucketVouchersByMAC).Put(redemptionKey(mac, usedAt, code), []byte(code))
	})
	if err != nil {
		return nil, err
	}
	return voucher, nil
}

func (r *boltVouchers) LatestRedemption(ctx context.Context, mac string) (*models.Voucher, error) {
	var voucher *models.Voucher
	err := r.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(mac + "/")
		var latest []byte
		c := tx.Bucket(bucketVouchersByMAC).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			latest = v
		}
		if latest == nil {
			return nil
		}
		var err error
		voucher, err = getVoucher(tx.Bucket(bucketVouchers), string(latest))
		return err
	})
	return voucher, err
}

func (r *boltVouchers) List(ctx context.Context, filter models.VoucherFilter) ([]models.Voucher, error) {
	var vouchers []models.Voucher
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVouchers).ForEach(func(k, v []byte) error {
			var voucher models.Voucher
			if err := json.Unmarshal(v, &voucher); err != nil {
				return fmt.Errorf("corrupt voucher %s: %w", k, err)
			}
			if filter.Used != nil && voucher.Used != *filter.Used {
				return nil
			}
			if filter.UsedBy != nil && (voucher.UsedBy == nil || *voucher.UsedBy != *filter.UsedBy) {
				return nil
			}
			vouchers = append(vouchers, voucher)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(vouchers, func(i, j int) bool {
		if !vouchers[i].CreatedAt.Equal(vouchers[j].CreatedAt) {
			return vouchers[i].CreatedAt.After(vouchers[j].CreatedAt)
		}
		return vouchers[i].Code < vouchers[j].Code
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(vouchers) > limit {
		vouchers = vouchers[:limit]
	}
	return vouchers, nil
}
