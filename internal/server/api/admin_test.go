package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/testutil"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
)

func adminToken(t *testing.T, role string) string {
	t.Helper()
	token, _, err := utils.GenerateJWT("operator", role, testAdminSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	return "Bearer " + token
}

func TestAdmin_IssueAndListVouchers(t *testing.T) {
	ts := newTestServer(t)
	auth := adminToken(t, utils.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/admin/vouchers",
		models.IssueVouchersRequest{Count: 3, Amount: 1.5, DurationMinutes: 90}, "Authorization", auth)
	expectStatus(t, rec, http.StatusCreated)
	var issued models.IssueVouchersResponse
	decodeBody(t, rec, &issued)
	if len(issued.Vouchers) != 3 {
		t.Fatalf("Expected 3 vouchers, got %d", len(issued.Vouchers))
	}

	code := issued.Vouchers[0].Code
	expectStatus(t, ts.do(t, http.MethodPost, "/vouchers/redeem",
		map[string]string{"code": code, "mac": "02:00:00:00:00:01"}), http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/admin/vouchers?used=false", nil, "Authorization", auth)
	expectStatus(t, rec, http.StatusOK)
	var list models.ListVouchersResponse
	decodeBody(t, rec, &list)
	if list.Count != 2 {
		t.Errorf("Expected 2 unused vouchers, got %d", list.Count)
	}

	rec = ts.do(t, http.MethodGet, "/admin/vouchers?usedBy=02-00-00-00-00-01", nil, "Authorization", auth)
	expectStatus(t, rec, http.StatusOK)
	list = models.ListVouchersResponse{}
	decodeBody(t, rec, &list)
	if list.Count != 1 || list.Vouchers[0].Code != code {
		t.Errorf("Expected only %s, got %+v", code, list.Vouchers)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/admin/vouchers?used=maybe", nil, "Authorization", auth), http.StatusBadRequest)
	expectStatus(t, ts.do(t, http.MethodPost, "/admin/vouchers",
		models.IssueVouchersRequest{Count: 0}, "Authorization", auth), http.StatusBadRequest)
}

func TestAdmin_ListDevicesAndHosts(t *testing.T) {
	ts := newTestServer(t)
	auth := adminToken(t, utils.RoleAdmin)
	testutil.CreateTestDevice(t, ts.store, "dev-a")
	testutil.CreateTestDevice(t, ts.store, "dev-b")

	rec := ts.do(t, http.MethodGet, "/admin/devices", nil, "Authorization", auth)
	expectStatus(t, rec, http.StatusOK)
	var devices models.ListDevicesResponse
	decodeBody(t, rec, &devices)
	if devices.Count != 2 {
		t.Errorf("Expected 2 devices, got %d", devices.Count)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/access/check?format=router&mac=02:00:00:00:00:07", nil), http.StatusOK)
	rec = ts.do(t, http.MethodGet, "/admin/hosts", nil, "Authorization", auth)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "02:00:00:00:00:07") {
		t.Errorf("Expected the polled host to be listed, got %s", rec.Body.String())
	}
}

func TestAdmin_Provision(t *testing.T) {
	ts := newTestServer(t)
	auth := adminToken(t, utils.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/admin/provision", nil, "Authorization", auth)
	expectStatus(t, rec, http.StatusOK)
	var resp models.ProvisionResponse
	decodeBody(t, rec, &resp)
	if resp.Commands == 0 || resp.Commands != len(ts.router.Executed()) {
		t.Errorf("Expected %d commands, got %d", len(ts.router.Executed()), resp.Commands)
	}

	ts.dialer.FailDial = errors.New("timeout")
	expectStatus(t, ts.do(t, http.MethodPost, "/admin/provision", nil, "Authorization", auth), http.StatusBadGateway)
}

func TestAdmin_RequiresAdminToken(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header []string
		status int
	}{
		{"no header", nil, http.StatusUnauthorized},
		{"not bearer", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"bad token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"register role", []string{"Authorization", adminToken(t, utils.RoleRegister)}, http.StatusForbidden},
		{"admin role", []string{"Authorization", adminToken(t, utils.RoleAdmin)}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/admin/whoami", nil, tt.header...)
			expectStatus(t, rec, tt.status)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("Unexpected health body: %s", rec.Body.String())
	}

	ts.do(t, http.MethodPost, "/vouchers/redeem", map[string]string{"code": "NOPE", "mac": "02:00:00:00:00:01"})
	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `madric_voucher_redemptions_total{outcome="not_found"} 1`) {
		t.Errorf("Redemption counter missing from /metrics")
	}
}
