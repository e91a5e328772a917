package hotspot

import (
	"regexp"
	"strings"

	"github.com/kamikazebr/madric/internal/server/routeros"
)

// BuildScript renders the full provisioning script for a device: every resource
// the script owns is removed first, then recreated, so running it any number of
// times leaves the router in the same state.
func BuildScript(t Topology) (routeros.Script, error) {
	if err := t.Validate(); err != nil {
		return routeros.Script{}, err
	}

	gateway, _ := t.Gateway()
	network, _ := t.Network()
	poolStart, poolEnd, _ := t.PoolRange()

	var s routeros.Script
	s.Comment("%s hotspot provisioning", t.Name)
	s.Comment("Safe to run more than once: owned resources are removed before being recreated")
	s.Blank()

	s.Comment("=== CLEANUP ===")
	s.Append(cleanup(t, gateway.String(), network))
	s.Blank()

	s.Comment("=== CREATE ===")
	if t.Bridge != nil {
		s.Add("/interface bridge", routeros.A("name", t.Interface))
		for _, port := range t.Bridge.Ports {
			s.Add("/interface bridge port", routeros.A("bridge", t.Interface), routeros.A("interface", port))
		}
	}

	s.Add("/ip address",
		routeros.A("address", t.GatewayCIDR),
		routeros.A("interface", t.Interface))

	s.Add("/ip pool",
		routeros.A("name", t.PoolName()),
		routeros.A("ranges", poolStart+"-"+poolEnd))

	s.Add("/ip dhcp-server",
		routeros.A("name", t.DHCPName()),
		routeros.A("interface", t.Interface),
		routeros.A("address-pool", t.PoolName()),
		routeros.A("disabled", "no"))

	networkArgs := []routeros.Arg{
		routeros.A("address", network),
		routeros.A("gateway", gateway.String()),
	}
	if len(t.DNSServers) > 0 {
		networkArgs = append(networkArgs, routeros.A("dns-server", strings.Join(t.DNSServers, ",")))
	}
	s.Add("/ip dhcp-server network", networkArgs...)

	htmlDir := t.HTMLDirectory
	if htmlDir == "" {
		htmlDir = "hotspot"
	}
	s.Add("/ip hotspot profile",
		routeros.A("name", t.ProfileName()),
		routeros.A("hotspot-address", gateway.String()),
		routeros.A("html-directory", htmlDir),
		routeros.A("use-radius", "no"))

	s.Add("/ip hotspot",
		routeros.A("name", t.HotspotName()),
		routeros.A("interface", t.Interface),
		routeros.A("address-pool", t.PoolName()),
		routeros.A("profile", t.ProfileName()))

	if t.Sync != nil {
		host, _ := syncHost(t.Sync.BaseURL)
		s.Add("/ip hotspot walled-garden",
			routeros.A("dst-host", host),
			routeros.A("comment", t.comment("portal")))
	}

	if t.ManagementPort > 0 {
		s.Add("/ip firewall filter",
			routeros.A("chain", "input"),
			routeros.A("protocol", "tcp"),
			routeros.A("dst-port", t.ManagementPort),
			routeros.A("action", "accept"),
			routeros.A("comment", t.comment("allow management")))
	}

	if t.NAT != nil {
		s.Add("/ip firewall nat",
			routeros.A("chain", "srcnat"),
			routeros.A("out-interface", t.NAT.OutInterface),
			routeros.A("action", "masquerade"),
			routeros.A("comment", t.comment("masquerade")))
	}

	if t.Sync != nil {
		// Hosts on the allow-list skip the login page
		s.Add("/ip firewall nat",
			routeros.A("chain", "pre-hotspot"),
			routeros.A("src-address-list", t.AllowListName()),
			routeros.A("action", "accept"),
			routeros.A("comment", t.comment("allow-list bypass")))
	}

	if t.EnableSNMP {
		s.Command("/tool snmp", "set", routeros.A("enabled", "yes"))
	}
	if t.AutoBackup {
		s.Command("/system backup", "save", routeros.A("name", t.BackupName()))
	}
	if t.FirmwareUpdateInterval != "" {
		s.Add("/system scheduler",
			routeros.A("name", t.FirmwareSchedulerName()),
			routeros.A("interval", t.FirmwareUpdateInterval),
			routeros.A("on-event", "/system package update install"))
	}

	if t.Sync != nil {
		s.Blank()
		s.Comment("=== ACCESS SYNC ===")
		s.Append(installScheduler(t, t.Sync.Interval))
	}

	return s, nil
}

// cleanup removes everything BuildScript creates, dependants before what they depend on
func cleanup(t Topology, gateway, network string) routeros.Script {
	var s routeros.Script
	s.Remove("/system scheduler", routeros.Find("name", t.SyncSchedulerName()))
	s.Remove("/system scheduler", routeros.Find("name", t.FirmwareSchedulerName()))
	s.Remove("/ip firewall nat", routeros.Find("comment", t.comment("masquerade")))
	s.Remove("/ip firewall nat", routeros.Find("comment", t.comment("allow-list bypass")))
	s.Remove("/ip firewall filter", routeros.Find("comment", t.comment("allow management")))
	s.Remove("/ip hotspot walled-garden", routeros.Find("comment", t.comment("portal")))
	s.Remove("/ip hotspot", routeros.Find("name", t.HotspotName()))
	s.Remove("/ip hotspot profile", routeros.Find("name", t.ProfileName()))
	s.Remove("/ip dhcp-server network", routeros.Find("address", network))
	s.Remove("/ip dhcp-server", routeros.Find("name", t.DHCPName()))
	s.Remove("/ip pool", routeros.Find("name", t.PoolName()))
	s.Remove("/ip address", routeros.FindMatch("address", "^"+regexp.QuoteMeta(gateway)+"/"))
	if t.Bridge != nil {
		s.Remove("/interface bridge port", routeros.Find("bridge", t.Interface))
		s.Remove("/interface bridge", routeros.Find("name", t.Interface))
	}
	return s
}

func syncHost(baseURL string) (string, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
