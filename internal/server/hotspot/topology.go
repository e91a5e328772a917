package hotspot

import (
	"encoding/binary"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/kamikazebr/madric/pkg/utils"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// BridgeConfig makes the provisioning script create the LAN bridge itself
type BridgeConfig struct {
	Ports []string
}

// NATConfig adds a masquerade rule for traffic leaving OutInterface
type NATConfig struct {
	OutInterface string
}

// SyncConfig installs the router-side allow-list synchronizer
type SyncConfig struct {
	// Base URL of this server as reachable from the router, e.g. http://10.0.0.5:8080
	BaseURL  string
	Interval time.Duration
	// Bounds each fetch on the router; zero keeps the router default
	FetchTimeout time.Duration
}

// Topology describes the guest network the router should run
type Topology struct {
	// Prefix for every named resource the script owns
	Name        string
	Interface   string
	GatewayCIDR string

	// Optional pool bounds, derived from GatewayCIDR when empty
	PoolStart  string
	PoolEnd    string
	DNSServers []string

	ManagementPort int
	HTMLDirectory  string

	Bridge *BridgeConfig
	NAT    *NATConfig
	Sync   *SyncConfig

	EnableSNMP             bool
	AutoBackup             bool
	FirmwareUpdateInterval string
}

// DefaultTopology mirrors the stock single-bridge hotspot deployment
func DefaultTopology() Topology {
	return Topology{
		Name:           "madric",
		Interface:      "bridge1",
		GatewayCIDR:    "192.168.100.1/24",
		DNSServers:     []string{"8.8.8.8"},
		ManagementPort: 8291,
		HTMLDirectory:  "hotspot",
	}
}

// Resource names derived from the prefix
func (t Topology) PoolName() string          { return t.Name + "-pool" }
func (t Topology) DHCPName() string          { return t.Name + "-dhcp" }
func (t Topology) ProfileName() string       { return t.Name + "-profile" }
func (t Topology) HotspotName() string       { return t.Name }
func (t Topology) AllowListName() string     { return t.Name + "-allowed" }
func (t Topology) SyncSchedulerName() string { return t.Name + "-access-sync" }
func (t Topology) FirmwareSchedulerName() string {
	return t.Name + "-firmware-update"
}
func (t Topology) BackupName() string { return t.Name + "-auto-backup" }

// comment tags resources that have no name property
func (t Topology) comment(what string) string {
	return t.Name + ": " + what
}

// Gateway returns the router's address on the guest network
func (t Topology) Gateway() (net.IP, error) {
	ip, _, err := net.ParseCIDR(t.GatewayCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway CIDR %q: %w", t.GatewayCIDR, err)
	}
	return ip.To4(), nil
}

// Network returns the guest network in CIDR form, e.g. 192.168.100.0/24
func (t Topology) Network() (string, error) {
	_, ipnet, err := net.ParseCIDR(t.GatewayCIDR)
	if err != nil {
		return "", fmt.Errorf("invalid gateway CIDR %q: %w", t.GatewayCIDR, err)
	}
	return ipnet.String(), nil
}

// PoolRange returns the DHCP pool bounds. Without explicit bounds the pool runs
// from the address after the gateway to the last host before broadcast.
func (t Topology) PoolRange() (start, end string, err error) {
	if t.PoolStart != "" && t.PoolEnd != "" {
		return t.PoolStart, t.PoolEnd, nil
	}

	ip, ipnet, err := net.ParseCIDR(t.GatewayCIDR)
	if err != nil {
		return "", "", fmt.Errorf("invalid gateway CIDR %q: %w", t.GatewayCIDR, err)
	}
	gw := ip.To4()
	if gw == nil {
		return "", "", fmt.Errorf("gateway %s is not IPv4", ip)
	}

	base := binary.BigEndian.Uint32(ipnet.IP.To4())
	ones, bits := ipnet.Mask.Size()
	size := uint32(1) << uint(bits-ones)
	broadcast := base + size - 1

	first := binary.BigEndian.Uint32(gw) + 1
	last := broadcast - 1
	if size < 4 || first > last {
		return "", "", fmt.Errorf("network %s has no room for a pool after gateway %s", ipnet, gw)
	}
	return uint32ToIP(first).String(), uint32ToIP(last).String(), nil
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}

// Validate checks the topology before any script is generated
func (t Topology) Validate() error {
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("invalid resource name prefix %q", t.Name)
	}
	if strings.TrimSpace(t.Interface) == "" {
		return fmt.Errorf("hotspot interface is required")
	}

	ip, ipnet, err := net.ParseCIDR(t.GatewayCIDR)
	if err != nil {
		return fmt.Errorf("invalid gateway CIDR %q", t.GatewayCIDR)
	}
	if ip.To4() == nil {
		return fmt.Errorf("gateway %s is not IPv4", ip)
	}
	if ip.Equal(ipnet.IP) {
		return fmt.Errorf("gateway %s is the network address", ip)
	}

	start, end, err := t.PoolRange()
	if err != nil {
		return err
	}
	startIP, endIP := net.ParseIP(start), net.ParseIP(end)
	if startIP == nil || endIP == nil {
		return fmt.Errorf("invalid pool range %s-%s", start, end)
	}
	if !ipnet.Contains(startIP) || !ipnet.Contains(endIP) {
		return fmt.Errorf("pool range %s-%s is outside %s", start, end, ipnet)
	}
	if binary.BigEndian.Uint32(startIP.To4()) > binary.BigEndian.Uint32(endIP.To4()) {
		return fmt.Errorf("pool range %s-%s is reversed", start, end)
	}

	for _, dns := range t.DNSServers {
		if !utils.IsValidIP(dns) {
			return fmt.Errorf("invalid DNS server %q", dns)
		}
	}
	if t.ManagementPort < 0 || t.ManagementPort > 65535 {
		return fmt.Errorf("invalid management port %d", t.ManagementPort)
	}
	if t.NAT != nil && strings.TrimSpace(t.NAT.OutInterface) == "" {
		return fmt.Errorf("NAT out-interface is required when NAT is enabled")
	}
	if t.Bridge != nil && len(t.Bridge.Ports) == 0 {
		return fmt.Errorf("bridge needs at least one port")
	}
	if t.Sync != nil {
		u, err := parseBaseURL(t.Sync.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid synchronizer base URL %q", t.Sync.BaseURL)
		}
		if !routerReachable(u.Hostname()) {
			return fmt.Errorf("synchronizer base URL %q points the router at itself", t.Sync.BaseURL)
		}
		if t.Sync.Interval != 0 && t.Sync.Interval < time.Second {
			return fmt.Errorf("synchronizer interval %s is too short", t.Sync.Interval)
		}
	}
	return nil
}
