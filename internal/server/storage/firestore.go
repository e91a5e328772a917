package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/kamikazebr/madric/pkg/models"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionDevices  = "devices"
	collectionVouchers = "vouchers"

	// Redemptions of a popular code can contend; losers must get to re-read the used flag
	redeemMaxAttempts = 20
)

// docID maps a device id or voucher code onto a valid document id. Raw keys may
// hold '/' or collide with reserved names like "." and "__x__".
func docID(key string) string {
	return "k_" + url.PathEscape(key)
}

// FirestoreStore keeps devices and vouchers as documents keyed by escaped id and code.
// Redemption runs inside a Firestore transaction, which retries on contention
// and re-reads the used flag each attempt.
type FirestoreStore struct {
	client   *firestore.Client
	devices  *firestoreDevices
	vouchers *firestoreVouchers
}

// NewFirestoreStore initializes the Firebase app from a service account file.
// With FIRESTORE_EMULATOR_HOST set the client talks to the emulator instead.
func NewFirestoreStore(ctx context.Context, credentialsPath, projectID string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	return NewFirestoreStoreFromClient(client), nil
}

func NewFirestoreStoreFromClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:   client,
		devices:  &firestoreDevices{client: client},
		vouchers: &firestoreVouchers{client: client},
	}
}

func (s *FirestoreStore) Devices() DeviceStore   { return s.devices }
func (s *FirestoreStore) Vouchers() VoucherStore { return s.vouchers }

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection(collectionDevices).Limit(1).Documents(ctx).GetAll()
	return err
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

type firestoreDevices struct {
	client *firestore.Client
}

func (r *firestoreDevices) CreateIfAbsent(ctx context.Context, device *models.Device) (bool, error) {
	ref := r.client.Collection(collectionDevices).Doc(docID(device.ID))
	_, err := ref.Create(ctx, device)
	if err == nil {
		return true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, fmt.Errorf("failed to create device: %w", err)
	}

	existing, err := r.GetByID(ctx, device.ID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, ErrDeviceNotFound
	}
	*device = *existing
	return false, nil
}

func (r *firestoreDevices) GetByID(ctx context.Context, id string) (*models.Device, error) {
	snap, err := r.client.Collection(collectionDevices).Doc(docID(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	var device models.Device
	if err := snap.DataTo(&device); err != nil {
		return nil, fmt.Errorf("failed to parse device document: %w", err)
	}
	return &device, nil
}

func (r *firestoreDevices) MarkConnected(ctx context.Context, id string, ip *string, at time.Time) (*models.Device, bool, error) {
	ref := r.client.Collection(collectionDevices).Doc(docID(id))
	var (
		device       models.Device
		firstConnect bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrDeviceNotFound
			}
			return err
		}
		device = models.Device{}
		if err := snap.DataTo(&device); err != nil {
			return err
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
		return tx.Set(ref, &device)
	})
	if err != nil {
		return nil, false, err
	}
	return &device, firstConnect, nil
}

func (r *firestoreDevices) List(ctx context.Context, limit int) ([]models.Device, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := r.client.Collection(collectionDevices).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var devices []models.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate devices: %w", err)
		}
		var device models.Device
		if err := doc.DataTo(&device); err != nil {
			return nil, fmt.Errorf("failed to parse device document: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

type firestoreVouchers struct {
	client *firestore.Client
}

func (r *firestoreVouchers) Create(ctx context.Context, voucher *models.Voucher) error {
	voucher.Used = false
	voucher.UsedAt = nil
	voucher.UsedBy = nil
	_, err := r.client.Collection(collectionVouchers).Doc(docID(voucher.Code)).Create(ctx, voucher)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrVoucherExists
		}
		return fmt.Errorf("failed to create voucher: %w", err)
	}
	return nil
}

func (r *firestoreVouchers) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	snap, err := r.client.Collection(collectionVouchers).Doc(docID(code)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	var voucher models.Voucher
	if err := snap.DataTo(&voucher); err != nil {
		return nil, fmt.Errorf("failed to parse voucher document: %w", err)
	}
	return &voucher, nil
}

func (r *firestoreVouchers) Redeem(ctx context.Context, code, mac string, at time.Time) (*models.Voucher, error) {
	ref := r.client.Collection(collectionVouchers).Doc(docID(code))
	var voucher models.Voucher
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrVoucherNotFound
			}
			return err
		}
		voucher = models.Voucher{}
		if err := snap.DataTo(&voucher); err != nil {
			return err
		}
		if voucher.Used {
			return ErrVoucherAlreadyUsed
		}

		usedAt := at
		usedBy := mac
		voucher.Used = true
		voucher.UsedAt = &usedAt
		voucher.UsedBy = &usedBy
		return tx.Set(ref, &voucher)
	}, firestore.MaxAttempts(redeemMaxAttempts))
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) || errors.Is(err, ErrVoucherAlreadyUsed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to redeem voucher: %w", err)
	}
	return &voucher, nil
}

// LatestRedemption picks the newest redemption client-side so no composite index is needed
func (r *firestoreVouchers) LatestRedemption(ctx context.Context, mac string) (*models.Voucher, error) {
	vouchers, err := r.query(ctx, r.client.Collection(collectionVouchers).Where("usedBy", "==", mac))
	if err != nil {
		return nil, err
	}

	var latest *models.Voucher
	for i := range vouchers {
		v := &vouchers[i]
		if !v.Used || v.UsedAt == nil {
			continue
		}
		if latest == nil || v.UsedAt.After(*latest.UsedAt) {
			latest = v
		}
	}
	return latest, nil
}

func (r *firestoreVouchers) List(ctx context.Context, filter models.VoucherFilter) ([]models.Voucher, error) {
	q := r.client.Collection(collectionVouchers).Query
	if filter.Used != nil {
		q = q.Where("used", "==", *filter.Used)
	}
	if filter.UsedBy != nil {
		q = q.Where("usedBy", "==", *filter.UsedBy)
	}

	vouchers, err := r.query(ctx, q)
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

func (r *firestoreVouchers) query(ctx context.Context, q firestore.Query) ([]models.Voucher, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var vouchers []models.Voucher
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate vouchers: %w", err)
		}
		var voucher models.Voucher
		if err := doc.DataTo(&voucher); err != nil {
			return nil, fmt.Errorf("failed to parse voucher document: %w", err)
		}
		vouchers = append(vouchers, voucher)
	}
	return vouchers, nil
}
