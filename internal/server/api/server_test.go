package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/metrics"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/routeros/routertest"
	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const testAdminSecret = "admin-secret"

type testServer struct {
	handler http.Handler
	store   storage.Store
	router  *routertest.Router
	dialer  *routertest.Dialer
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testutil.NewBoltStore(t)
	router := routertest.NewRouter()
	dialer := router.Dialer()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	topology := hotspot.DefaultTopology()
	topology.Sync = &hotspot.SyncConfig{BaseURL: "http://portal.test"}

	ts := &testServer{
		store:  store,
		router: router,
		dialer: dialer,
		now:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }

	deviceService := services.NewDeviceService(store.Devices(), services.DeviceServiceConfig{
		PublicBaseURL:  "http://portal.test",
		Topology:       topology,
		PushOnRegister: true,
	}, routeros.NewProvisioner(dialer, logger), nil, m, logger)
	voucherService := services.NewVoucherService(store.Vouchers(), m, logger)
	voucherService.SetClock(clock)
	hosts := services.NewHostCache(time.Minute, logger)
	t.Cleanup(hosts.Stop)
	accessService := services.NewAccessService(store.Vouchers(), hosts, m)
	accessService.SetClock(clock)

	ts.handler = NewRouter(RouterConfig{
		Devices:          deviceService,
		Vouchers:         voucherService,
		Access:           accessService,
		Hosts:            hosts,
		Store:            store,
		AdminTokenSecret: testAdminSecret,
		Gatherer:         reg,
		Logger:           logger,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.50:41000"
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, strings.TrimSpace(rec.Body.String()))
	}
}
