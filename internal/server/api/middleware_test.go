package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kamikazebr/madric/pkg/utils"
)

func TestAdminMiddleware_AllowsAdminRole(t *testing.T) {
	token, _, err := utils.GenerateJWT("operator", utils.RoleAdmin, "secret", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/vouchers", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	nextCalled := false
	handler := AdminMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		if claims := GetAdminClaims(r); claims == nil || claims.Subject != "operator" {
			t.Errorf("expected operator claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatalf("expected next handler to run for admin token")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", rec.Code)
	}
}

func TestAdminMiddleware_RejectsOtherSecret(t *testing.T) {
	token, _, err := utils.GenerateJWT("operator", utils.RoleAdmin, "other", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/vouchers", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler := AdminMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	}))

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 status, got %d", rec.Code)
	}
}

func TestAdminMiddleware_DisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/vouchers", nil)
	req.Header.Set("Authorization", "Bearer anything")

	rec := httptest.NewRecorder()
	handler := AdminMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	}))

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 status when admin API is disabled, got %d", rec.Code)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/vouchers/redeem", nil)
	rec := httptest.NewRecorder()
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}
