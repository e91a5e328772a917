package utils

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "upper colon", in: "AA:BB:CC:DD:EE:FF", want: "AA:BB:CC:DD:EE:FF"},
		{name: "lower colon", in: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "hyphens", in: "4c-5e-0c-b7-dc-dd", want: "4C:5E:0C:B7:DC:DD"},
		{name: "dotted", in: "aabb.ccdd.eeff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "surrounding space", in: " aa:bb:cc:dd:ee:ff ", want: "AA:BB:CC:DD:EE:FF"},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "not-a-mac", wantErr: true},
		{name: "eui64 rejected", in: "02:00:5e:10:00:00:00:01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeMAC(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMAC(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateVoucherCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateVoucherCode(8)
		if err != nil {
			t.Fatalf("GenerateVoucherCode failed: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("expected 8 chars, got %q", code)
		}
		for _, c := range code {
			if !strings.ContainsRune(voucherAlphabet, c) {
				t.Fatalf("code %q contains %q outside alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("expected mostly unique codes, got %d distinct of 50", len(seen))
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateJWT("dev-1", RoleRegister, "secret", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("ValidateJWT failed: %v", err)
	}
	if claims.Subject != "dev-1" || claims.Role != RoleRegister {
		t.Errorf("unexpected claims: subject=%q role=%q", claims.Subject, claims.Role)
	}

	if _, err := ValidateJWT(token, "other-secret"); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	token, _, err := GenerateJWT("dev-1", RoleRegister, "secret", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	if _, err := ValidateJWT(token, "secret"); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestPeekClaims(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	token, expiresAt, err := GenerateJWT("operator", RoleAdmin, "secret", time.Hour, now)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	claims, err := PeekClaims(token)
	if err != nil {
		t.Fatalf("PeekClaims failed: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != RoleAdmin || !claims.ExpiresAt.Time.Equal(expiresAt) {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := PeekClaims("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestIsValidIPAndMAC(t *testing.T) {
	if !IsValidIP("10.5.50.1") || IsValidIP("10.5.50") {
		t.Error("IsValidIP misclassified an address")
	}
	if !IsValidMAC("aa-bb-cc-dd-ee-ff") || IsValidMAC("aa:bb") {
		t.Error("IsValidMAC misclassified an address")
	}
}
