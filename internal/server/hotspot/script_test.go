package hotspot_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/routeros/routertest"
	"go.uber.org/zap"
)

func fullTopology() hotspot.Topology {
	t := hotspot.DefaultTopology()
	t.Bridge = &hotspot.BridgeConfig{Ports: []string{"ether2", "ether3"}}
	t.NAT = &hotspot.NATConfig{OutInterface: "ether1"}
	t.EnableSNMP = true
	t.AutoBackup = true
	t.FirmwareUpdateInterval = "1d"
	t.Sync = &hotspot.SyncConfig{BaseURL: "http://10.0.0.5:8080", Interval: time.Minute}
	return t
}

func indexOf(t *testing.T, cmds []string, prefix string) int {
	t.Helper()
	for i, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	t.Fatalf("no command starting with %q", prefix)
	return -1
}

func TestBuildScript_RemovalsPrecedeCreations(t *testing.T) {
	script, err := hotspot.BuildScript(fullTopology())
	if err != nil {
		t.Fatalf("BuildScript failed: %v", err)
	}
	cmds := script.Commands()

	lastRemove, firstCreate := -1, len(cmds)
	for i, c := range cmds {
		if routeros.IsRemoval(c) {
			lastRemove = i
		} else if i < firstCreate {
			firstCreate = i
		}
	}
	if lastRemove > firstCreate {
		t.Errorf("removal at %d after creation at %d:\n%s", lastRemove, firstCreate, strings.Join(cmds, "\n"))
	}
}

func TestBuildScript_DependencyOrder(t *testing.T) {
	script, err := hotspot.BuildScript(fullTopology())
	if err != nil {
		t.Fatalf("BuildScript failed: %v", err)
	}
	cmds := script.Commands()

	order := []string{
		"/interface bridge add",
		"/interface bridge port add",
		"/ip address add",
		"/ip pool add",
		"/ip dhcp-server add",
		"/ip dhcp-server network add",
		"/ip hotspot profile add",
		"/ip hotspot add",
		"/ip hotspot walled-garden add",
		"/ip firewall filter add",
		"/ip firewall nat add chain=srcnat",
		"/ip firewall nat add chain=pre-hotspot",
		"/system scheduler add name=madric-firmware-update",
		"/system scheduler add name=madric-access-sync",
	}
	prev := -1
	for _, prefix := range order {
		idx := indexOf(t, cmds, prefix)
		if idx <= prev {
			t.Errorf("%q at %d, expected after index %d", prefix, idx, prev)
		}
		prev = idx
	}
}

func TestBuildScript_DefaultMatchesStockDeployment(t *testing.T) {
	script, err := hotspot.BuildScript(hotspot.DefaultTopology())
	if err != nil {
		t.Fatalf("BuildScript failed: %v", err)
	}
	text := script.String()

	want := []string{
		"/ip pool add name=madric-pool ranges=192.168.100.2-192.168.100.254",
		"/ip dhcp-server add name=madric-dhcp interface=bridge1 address-pool=madric-pool disabled=no",
		"/ip dhcp-server network add address=192.168.100.0/24 gateway=192.168.100.1 dns-server=8.8.8.8",
		"/ip hotspot profile add name=madric-profile hotspot-address=192.168.100.1 html-directory=hotspot use-radius=no",
		"/ip hotspot add name=madric interface=bridge1 address-pool=madric-pool profile=madric-profile",
		`/ip firewall filter add chain=input protocol=tcp dst-port=8291 action=accept comment="madric: allow management"`,
	}
	for _, line := range want {
		if !strings.Contains(text, line+"\n") {
			t.Errorf("script missing line %q\n%s", line, text)
		}
	}
	if strings.Contains(text, "/system scheduler add") {
		t.Error("no scheduler expected without sync or firmware update")
	}
}

func apply(t *testing.T, router *routertest.Router, script routeros.Script) {
	t.Helper()
	p := routeros.NewProvisioner(router.Dialer(), zap.NewNop())
	if _, err := p.Apply(context.Background(), script); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}

func TestBuildScript_ReapplyIsIdempotent(t *testing.T) {
	script, err := hotspot.BuildScript(fullTopology())
	if err != nil {
		t.Fatalf("BuildScript failed: %v", err)
	}

	router := routertest.NewRouter()
	apply(t, router, script)
	once := router.Snapshot()
	if once == "" {
		t.Fatal("expected resources after first run")
	}

	apply(t, router, script)
	if twice := router.Snapshot(); twice != once {
		t.Errorf("state drifted after reapply\nfirst:\n%s\nsecond:\n%s", once, twice)
	}
	if n := len(router.Items("/ip firewall nat")); n != 2 {
		t.Errorf("expected 2 nat rules, got %d", n)
	}
}

func TestBuildScript_PartialRunConverges(t *testing.T) {
	script, err := hotspot.BuildScript(fullTopology())
	if err != nil {
		t.Fatalf("BuildScript failed: %v", err)
	}

	clean := routertest.NewRouter()
	apply(t, clean, script)

	router := routertest.NewRouter()
	fail := true
	router.SetHook(func(cmd string) (string, bool) {
		if fail && strings.HasPrefix(cmd, "/ip hotspot add") {
			return "failure: interface bridge1 not ready", true
		}
		return "", false
	})
	p := routeros.NewProvisioner(router.Dialer(), zap.NewNop())
	if _, err := p.Apply(context.Background(), script); err == nil {
		t.Fatal("expected partial run to fail")
	}

	fail = false
	apply(t, router, script)
	if got, want := router.Snapshot(), clean.Snapshot(); got != want {
		t.Errorf("retry did not converge\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildScript_RejectsInvalidTopology(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*hotspot.Topology)
	}{
		{"empty name", func(t *hotspot.Topology) { t.Name = "" }},
		{"name with space", func(t *hotspot.Topology) { t.Name = "my hotspot" }},
		{"no interface", func(t *hotspot.Topology) { t.Interface = "" }},
		{"bad cidr", func(t *hotspot.Topology) { t.GatewayCIDR = "192.168.100.1" }},
		{"network address as gateway", func(t *hotspot.Topology) { t.GatewayCIDR = "192.168.100.0/24" }},
		{"ipv6 gateway", func(t *hotspot.Topology) { t.GatewayCIDR = "fd00::1/64" }},
		{"pool outside network", func(t *hotspot.Topology) { t.PoolStart, t.PoolEnd = "10.0.0.2", "10.0.0.9" }},
		{"reversed pool", func(t *hotspot.Topology) { t.PoolStart, t.PoolEnd = "192.168.100.9", "192.168.100.2" }},
		{"bad dns", func(t *hotspot.Topology) { t.DNSServers = []string{"dns.google"} }},
		{"nat without interface", func(t *hotspot.Topology) { t.NAT = &hotspot.NATConfig{} }},
		{"bridge without ports", func(t *hotspot.Topology) { t.Bridge = &hotspot.BridgeConfig{} }},
		{"sync without url", func(t *hotspot.Topology) { t.Sync = &hotspot.SyncConfig{BaseURL: "10.0.0.5"} }},
		{"sync to localhost", func(t *hotspot.Topology) { t.Sync = &hotspot.SyncConfig{BaseURL: "http://localhost:8080"} }},
		{"sync to loopback", func(t *hotspot.Topology) { t.Sync = &hotspot.SyncConfig{BaseURL: "http://127.0.0.1:8080"} }},
		{"sync to ipv6 loopback", func(t *hotspot.Topology) { t.Sync = &hotspot.SyncConfig{BaseURL: "http://[::1]:8080"} }},
		{"sync to unspecified", func(t *hotspot.Topology) { t.Sync = &hotspot.SyncConfig{BaseURL: "http://0.0.0.0:8080"} }},
		{"sync too fast", func(t *hotspot.Topology) {
			t.Sync = &hotspot.SyncConfig{BaseURL: "http://10.0.0.5", Interval: time.Millisecond}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := hotspot.DefaultTopology()
			tt.mutate(&topo)
			if _, err := hotspot.BuildScript(topo); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPoolRange(t *testing.T) {
	topo := hotspot.DefaultTopology()
	topo.GatewayCIDR = "10.5.0.1/16"
	start, end, err := topo.PoolRange()
	if err != nil {
		t.Fatalf("PoolRange failed: %v", err)
	}
	if start != "10.5.0.2" || end != "10.5.255.254" {
		t.Errorf("PoolRange = %s-%s", start, end)
	}

	topo.GatewayCIDR = "10.5.0.1/31"
	if _, _, err := topo.PoolRange(); err == nil {
		t.Error("expected error for /31")
	}
}
