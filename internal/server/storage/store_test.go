package storage_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/internal/testutil"
	"github.com/kamikazebr/madric/pkg/models"
)

// Every backend must pass the same behaviour checks
func runStoreSuite(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("DeviceCreateIfAbsent", func(t *testing.T) { testDeviceCreateIfAbsent(t, newStore(t)) })
	t.Run("DeviceFreeFormID", func(t *testing.T) { testDeviceFreeFormID(t, newStore(t)) })
	t.Run("DeviceMarkConnected", func(t *testing.T) { testDeviceMarkConnected(t, newStore(t)) })
	t.Run("DeviceConcurrentFirstConnect", func(t *testing.T) { testDeviceConcurrentFirstConnect(t, newStore(t)) })
	t.Run("VoucherCreate", func(t *testing.T) { testVoucherCreate(t, newStore(t)) })
	t.Run("VoucherRedeem", func(t *testing.T) { testVoucherRedeem(t, newStore(t)) })
	t.Run("VoucherConcurrentRedeem", func(t *testing.T) { testVoucherConcurrentRedeem(t, newStore(t)) })
	t.Run("LatestRedemption", func(t *testing.T) { testLatestRedemption(t, newStore(t)) })
	t.Run("VoucherList", func(t *testing.T) { testVoucherList(t, newStore(t)) })
}

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) storage.Store {
		return testutil.NewBoltStore(t)
	})
}

func TestPostgresStore(t *testing.T) {
	tdb := testutil.GetTestDB(t)
	defer tdb.Close()

	runStoreSuite(t, func(t *testing.T) storage.Store {
		return tdb.Store()
	})
}

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("Skipping test: FIRESTORE_EMULATOR_HOST not set")
	}

	runStoreSuite(t, func(t *testing.T) storage.Store {
		store, err := storage.NewFirestoreStore(context.Background(), "", "madric-test-"+testutil.GenerateTestCode())
		if err != nil {
			t.Fatalf("Failed to connect to emulator: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func testDeviceCreateIfAbsent(t *testing.T, store storage.Store) {
	ctx := context.Background()
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	device := &models.Device{ID: "dev-1", Status: models.DeviceStatusPending, CreatedAt: createdAt}
	created, err := store.Devices().CreateIfAbsent(ctx, device)
	if err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	if !created {
		t.Error("expected first call to create")
	}

	again := &models.Device{ID: "dev-1", Status: models.DeviceStatusPending, CreatedAt: createdAt.Add(time.Hour)}
	created, err = store.Devices().CreateIfAbsent(ctx, again)
	if err != nil {
		t.Fatalf("second CreateIfAbsent failed: %v", err)
	}
	if created {
		t.Error("second call must not create")
	}
	if !again.CreatedAt.Equal(createdAt) {
		t.Errorf("existing record should be returned, got createdAt %v want %v", again.CreatedAt, createdAt)
	}

	missing, err := store.Devices().GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByID(unknown) = %v, %v; want nil, nil", missing, err)
	}
}

func testDeviceFreeFormID(t *testing.T, store storage.Store) {
	ctx := context.Background()

	for _, id := range []string{"dev 1", "a/b", "..", "__reserved__", "ünïcode", strings.Repeat("z", 255)} {
		device := &models.Device{ID: id, Status: models.DeviceStatusPending, CreatedAt: time.Now().UTC()}
		if _, err := store.Devices().CreateIfAbsent(ctx, device); err != nil {
			t.Fatalf("CreateIfAbsent(%q) failed: %v", id, err)
		}
		got, err := store.Devices().GetByID(ctx, id)
		if err != nil || got == nil || got.ID != id {
			t.Errorf("GetByID(%q) = %+v, %v", id, got, err)
		}
	}
}

func testDeviceMarkConnected(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestDevice(t, store, "dev-1")

	first := time.Now().UTC().Truncate(time.Microsecond)
	ip := "10.0.0.7"
	device, firstConnect, err := store.Devices().MarkConnected(ctx, "dev-1", &ip, first)
	if err != nil {
		t.Fatalf("MarkConnected failed: %v", err)
	}
	if !firstConnect {
		t.Error("the pending to connected move must report firstConnect")
	}
	if device.Status != models.DeviceStatusConnected || device.ConnectedAt == nil || !device.ConnectedAt.Equal(first) {
		t.Fatalf("unexpected device after connect: %+v", device)
	}

	// Reconnect refreshes ip but keeps the first connection time
	newIP := "10.0.0.8"
	device, firstConnect, err = store.Devices().MarkConnected(ctx, "dev-1", &newIP, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("second MarkConnected failed: %v", err)
	}
	if firstConnect {
		t.Error("reconnect must not report firstConnect")
	}
	if !device.ConnectedAt.Equal(first) {
		t.Errorf("connectedAt changed on reconnect: %v", device.ConnectedAt)
	}
	if device.IP == nil || *device.IP != newIP {
		t.Errorf("ip not refreshed: %v", device.IP)
	}

	// nil ip keeps the stored one
	device, _, err = store.Devices().MarkConnected(ctx, "dev-1", nil, first)
	if err != nil {
		t.Fatalf("third MarkConnected failed: %v", err)
	}
	if device.IP == nil || *device.IP != newIP {
		t.Errorf("ip should be kept, got %v", device.IP)
	}

	if _, _, err := store.Devices().MarkConnected(ctx, "unknown", nil, first); !errors.Is(err, storage.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if d, _ := store.Devices().GetByID(ctx, "unknown"); d != nil {
		t.Error("MarkConnected must not create unknown devices")
	}
}

func testDeviceConcurrentFirstConnect(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestDevice(t, store, "dev-race")

	const workers = 12
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, firstConnect, err := store.Devices().MarkConnected(ctx, "dev-race", nil, time.Now().UTC())
			if err != nil {
				t.Errorf("MarkConnected failed: %v", err)
				return
			}
			if firstConnect {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if first != 1 {
		t.Errorf("expected exactly one first connect, got %d", first)
	}
}

func testVoucherCreate(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestVoucher(t, store, "ABC123", 60)

	dup := &models.Voucher{Code: "ABC123", DurationMinutes: 30, CreatedAt: time.Now()}
	if err := store.Vouchers().Create(ctx, dup); !errors.Is(err, storage.ErrVoucherExists) {
		t.Errorf("expected ErrVoucherExists, got %v", err)
	}

	v, err := store.Vouchers().GetByCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetByCode failed: %v", err)
	}
	if v == nil || v.DurationMinutes != 60 || v.Used {
		t.Errorf("unexpected voucher: %+v", v)
	}
}

func testVoucherRedeem(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestVoucher(t, store, "ABC123", 60)
	mac := "AA:BB:CC:DD:EE:FF"
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	v, err := store.Vouchers().Redeem(ctx, "ABC123", mac, at)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !v.Used || v.UsedBy == nil || *v.UsedBy != mac || v.UsedAt == nil || !v.UsedAt.Equal(at) {
		t.Errorf("unexpected redeemed voucher: %+v", v)
	}

	if _, err := store.Vouchers().Redeem(ctx, "ABC123", "11:22:33:44:55:66", at.Add(time.Minute)); !errors.Is(err, storage.ErrVoucherAlreadyUsed) {
		t.Errorf("expected ErrVoucherAlreadyUsed, got %v", err)
	}

	// The failed attempt leaves the original binding intact
	stored, _ := store.Vouchers().GetByCode(ctx, "ABC123")
	if stored == nil || *stored.UsedBy != mac || !stored.UsedAt.Equal(at) {
		t.Errorf("redemption changed by losing attempt: %+v", stored)
	}

	if _, err := store.Vouchers().Redeem(ctx, "NOPE", mac, at); !errors.Is(err, storage.ErrVoucherNotFound) {
		t.Errorf("expected ErrVoucherNotFound, got %v", err)
	}
}

func testVoucherConcurrentRedeem(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestVoucher(t, store, "RACE01", 60)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		losers   int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Vouchers().Redeem(ctx, "RACE01", testutil.GenerateTestMAC(), time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, storage.ErrVoucherAlreadyUsed):
				losers++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
	if winners != 1 || losers != workers-1 {
		t.Errorf("expected exactly one winner, got winners=%d losers=%d", winners, losers)
	}
}

func testLatestRedemption(t *testing.T, store storage.Store) {
	ctx := context.Background()
	mac := "AA:BB:CC:DD:EE:FF"
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	none, err := store.Vouchers().LatestRedemption(ctx, mac)
	if err != nil || none != nil {
		t.Fatalf("LatestRedemption with no vouchers = %v, %v", none, err)
	}

	testutil.CreateTestVoucher(t, store, "OLD001", 600)
	testutil.CreateTestVoucher(t, store, "NEW001", 10)
	testutil.CreateTestVoucher(t, store, "OTHER1", 60)

	mustRedeem := func(code, mac string, at time.Time) {
		if _, err := store.Vouchers().Redeem(ctx, code, mac, at); err != nil {
			t.Fatalf("Redeem(%s) failed: %v", code, err)
		}
	}
	mustRedeem("OLD001", mac, base)
	mustRedeem("NEW001", mac, base.Add(time.Hour))
	mustRedeem("OTHER1", "11:22:33:44:55:66", base.Add(2*time.Hour))

	latest, err := store.Vouchers().LatestRedemption(ctx, mac)
	if err != nil {
		t.Fatalf("LatestRedemption failed: %v", err)
	}
	if latest == nil || latest.Code != "NEW001" {
		t.Errorf("expected NEW001 as most recent redemption, got %+v", latest)
	}
}

func testVoucherList(t *testing.T, store storage.Store) {
	ctx := context.Background()
	testutil.CreateTestVoucher(t, store, "LIST01", 60)
	testutil.CreateTestVoucher(t, store, "LIST02", 60)
	testutil.CreateTestVoucher(t, store, "LIST03", 60)
	if _, err := store.Vouchers().Redeem(ctx, "LIST02", "AA:BB:CC:DD:EE:FF", time.Now().UTC()); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	all, err := store.Vouchers().List(ctx, models.VoucherFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 vouchers, got %d", len(all))
	}

	used := true
	redeemed, err := store.Vouchers().List(ctx, models.VoucherFilter{Used: &used})
	if err != nil {
		t.Fatalf("List(used) failed: %v", err)
	}
	if len(redeemed) != 1 || redeemed[0].Code != "LIST02" {
		t.Errorf("unexpected used vouchers: %+v", redeemed)
	}

	limited, err := store.Vouchers().List(ctx, models.VoucherFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List(limit) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}
