package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/pkg/models"
)

// CreateTestVoucher stores an unused voucher with the given duration
func CreateTestVoucher(t testing.TB, store storage.Store, code string, durationMinutes int) *models.Voucher {
	t.Helper()

	voucher := &models.Voucher{
		Code:            code,
		Amount:          5,
		DurationMinutes: durationMinutes,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Vouchers().Create(context.Background(), voucher); err != nil {
		t.Fatalf("Failed to create test voucher: %v", err)
	}
	return voucher
}

// CreateTestDevice stores a pending device
func CreateTestDevice(t testing.TB, store storage.Store, id string) *models.Device {
	t.Helper()

	device := &models.Device{
		ID:        id,
		Status:    models.DeviceStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if _, err := store.Devices().CreateIfAbsent(context.Background(), device); err != nil {
		t.Fatalf("Failed to create test device: %v", err)
	}
	return device
}

// GenerateTestCode generates a unique voucher code
func GenerateTestCode() string {
	return "T" + strings.ToUpper(uuid.New().String()[:7])
}

// GenerateTestMAC generates a unique locally administered MAC address
func GenerateTestMAC() string {
	id := uuid.New()
	return fmt.Sprintf("02:%02X:%02X:%02X:%02X:%02X", id[0], id[1], id[2], id[3], id[4])
}
