package services

import (
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/routeros/routertest"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/internal/testutil"
	"go.uber.org/zap"
)

// clock is a settable time source
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) set(t time.Time)         { c.t = t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.UTC)
}

func testTopology() hotspot.Topology {
	topology := hotspot.DefaultTopology()
	topology.Sync = &hotspot.SyncConfig{BaseURL: "http://portal.test"}
	return topology
}

type fixture struct {
	store    storage.Store
	router   *routertest.Router
	dialer   *routertest.Dialer
	devices  *DeviceService
	vouchers *VoucherService
	access   *AccessService
	clock    *clock
}

func newFixture(t *testing.T, cfg DeviceServiceConfig) *fixture {
	t.Helper()

	store := testutil.NewBoltStore(t)
	router := routertest.NewRouter()
	dialer := router.Dialer()
	logger := zap.NewNop()
	c := &clock{t: at(10, 0)}

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://portal.test"
	}
	if cfg.Topology.Name == "" {
		cfg.Topology = testTopology()
	}

	f := &fixture{
		store:    store,
		router:   router,
		dialer:   dialer,
		devices:  NewDeviceService(store.Devices(), cfg, routeros.NewProvisioner(dialer, logger), nil, nil, logger),
		vouchers: NewVoucherService(store.Vouchers(), nil, logger),
		access:   NewAccessService(store.Vouchers(), nil, nil),
		clock:    c,
	}
	f.devices.now = c.now
	f.vouchers.now = c.now
	f.access.now = c.now
	return f
}
