package routeros_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/routeros/routertest"
	"go.uber.org/zap"
)

func newSSHDialer(t *testing.T, srv *routertest.SSHServer, password string, commandTimeout time.Duration) *routeros.SSHDialer {
	t.Helper()
	dialer, err := routeros.NewSSHDialer(routeros.SSHConfig{
		Addr:               srv.Addr,
		User:               "admin",
		Password:           password,
		HostKeyFingerprint: srv.HostKeyFingerprint,
		DialTimeout:        2 * time.Second,
		CommandTimeout:     commandTimeout,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSSHDialer failed: %v", err)
	}
	return dialer
}

func TestNewSSHDialer_Validation(t *testing.T) {
	logger := zap.NewNop()

	if _, err := routeros.NewSSHDialer(routeros.SSHConfig{User: "admin", Password: "x"}, logger); err == nil {
		t.Error("expected error without address")
	}
	if _, err := routeros.NewSSHDialer(routeros.SSHConfig{Addr: "192.168.88.1", Password: "x"}, logger); err == nil {
		t.Error("expected error without user")
	}
	if _, err := routeros.NewSSHDialer(routeros.SSHConfig{Addr: "192.168.88.1", User: "admin"}, logger); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := routeros.NewSSHDialer(routeros.SSHConfig{Addr: "192.168.88.1", User: "admin", PrivateKey: []byte("junk")}, logger); err == nil {
		t.Error("expected error for unparsable private key")
	}
}

func TestSSHSession_RunsCommandsInOrder(t *testing.T) {
	router := routertest.NewRouter()
	srv := routertest.NewSSHServer(t, router, "admin", "secret")
	dialer := newSSHDialer(t, srv, "secret", 2*time.Second)

	ctx := context.Background()
	session, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer session.Close()

	cmds := []string{
		"/ip pool remove [find name=madric-pool]",
		"/ip pool add name=madric-pool ranges=192.168.100.2-192.168.100.254",
	}
	for _, cmd := range cmds {
		if _, err := session.Run(ctx, cmd); err != nil {
			t.Fatalf("Run(%q) failed: %v", cmd, err)
		}
	}

	if got := router.Executed(); strings.Join(got, "\n") != strings.Join(cmds, "\n") {
		t.Errorf("executed = %v, want %v", got, cmds)
	}
	if pools := router.Items("/ip pool"); len(pools) != 1 || pools[0]["name"] != "madric-pool" {
		t.Errorf("unexpected pools: %v", pools)
	}
}

func TestSSHSession_DetectsRejection(t *testing.T) {
	router := routertest.NewRouter()
	srv := routertest.NewSSHServer(t, router, "admin", "secret")
	dialer := newSSHDialer(t, srv, "secret", 2*time.Second)

	ctx := context.Background()
	session, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer session.Close()

	if _, err := session.Run(ctx, "/ip pool add name=dup"); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	_, err = session.Run(ctx, "/ip pool add name=dup")
	if !errors.Is(err, routeros.ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected for duplicate name, got %v", err)
	}
}

func TestSSHDialer_RejectsBadPassword(t *testing.T) {
	router := routertest.NewRouter()
	srv := routertest.NewSSHServer(t, router, "admin", "secret")
	dialer := newSSHDialer(t, srv, "wrong", 2*time.Second)

	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestSSHDialer_RejectsHostKeyMismatch(t *testing.T) {
	router := routertest.NewRouter()
	srv := routertest.NewSSHServer(t, router, "admin", "secret")

	dialer, err := routeros.NewSSHDialer(routeros.SSHConfig{
		Addr:               srv.Addr,
		User:               "admin",
		Password:           "secret",
		HostKeyFingerprint: "SHA256:not-the-right-key",
		DialTimeout:        2 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSSHDialer failed: %v", err)
	}

	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Fatal("expected host key mismatch error")
	}
}

func TestSSHSession_CommandTimeoutAbandonsSession(t *testing.T) {
	router := routertest.NewRouter()
	release := make(chan struct{})
	defer close(release)
	router.SetHook(func(cmd string) (string, bool) {
		if strings.Contains(cmd, "hang") {
			<-release
			return "", true
		}
		return "", false
	})
	srv := routertest.NewSSHServer(t, router, "admin", "secret")
	dialer := newSSHDialer(t, srv, "secret", 200*time.Millisecond)

	ctx := context.Background()
	session, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer session.Close()

	start := time.Now()
	_, err = session.Run(ctx, "/system hang")
	if !errors.Is(err, routeros.ErrCommandTimeout) {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	if _, err := session.Run(ctx, "/ip pool print"); !errors.Is(err, routeros.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after timeout, got %v", err)
	}
}

func TestDial_ConnectionRefused(t *testing.T) {
	dialer, err := routeros.NewSSHDialer(routeros.SSHConfig{
		Addr:        "127.0.0.1:1",
		User:        "admin",
		Password:    "secret",
		DialTimeout: time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSSHDialer failed: %v", err)
	}
	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Fatal("expected connection error")
	}
}
