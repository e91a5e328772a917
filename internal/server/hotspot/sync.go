package hotspot

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kamikazebr/madric/internal/server/routeros"
)

const (
	// DefaultSyncInterval is how often the router polls the access check endpoint
	DefaultSyncInterval = time.Minute

	// RouterFormat asks /access/check for the compact body the router script parses
	RouterFormat = "router"
)

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", raw)
	}
	return u, nil
}

// routerReachable reports whether a router can call host back. Loopback and
// unspecified addresses resolve to the router itself.
func routerReachable(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified()) {
		return false
	}
	return true
}

// CheckURL returns the access check URL prefix; the router appends the MAC
func CheckURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/access/check?format=" + RouterFormat + "&mac="
}

// SyncScript builds the script the router runs on every scheduler tick.
//
// For every associated hotspot host it asks the backend whether the MAC has
// access. An allowed host gets its allow-list entries (by MAC and by address)
// replaced with one that times out after the remaining grant. Denials and
// failed fetches leave the host's own entry alone; the only removal outside the
// allow check drops an entry for the host's address that another MAC left behind
// after a DHCP reassignment.
func SyncScript(t Topology) routeros.Script {
	list := t.AllowListName()
	file := routeros.Quote(t.Name + "-access.txt")

	fetch := "/tool fetch url=(" + routeros.Quote(CheckURL(t.Sync.BaseURL)) + " . $mac) dst-path=" + file
	if strings.HasPrefix(t.Sync.BaseURL, "https") {
		fetch += " check-certificate=no"
	}
	if t.Sync.FetchTimeout > 0 {
		fetch += " idle-timeout=" + FormatInterval(t.Sync.FetchTimeout)
	}

	// Body is {"allow":true,"remaining":<seconds>}
	var grant routeros.Script
	grant.Raw(":local p ([:find $body " + routeros.Quote(`"remaining":`) + "] + 12)")
	grant.Raw(":local rem [:pick $body $p [:find $body " + routeros.Quote("}") + " $p]]")
	grant.Raw(":if ([:tonum $rem] > 0) do={ " +
		"/ip firewall address-list remove [find list=" + list + " comment=$mac]; " +
		"/ip firewall address-list remove [find list=" + list + " address=$addr]; " +
		"/ip firewall address-list add list=" + list + " address=$addr timeout=($rem . \"s\") comment=$mac }")

	var check routeros.Script
	check.Raw(fetch)
	check.Raw(":local body [/file get " + file + " contents]")
	check.Raw(":if ([:typeof [:find $body " + routeros.Quote(`"allow":true`) + "]] = \"num\") do=" + grant.Block())

	var host routeros.Script
	host.Raw(":local mac [/ip hotspot host get $h mac-address]")
	host.Raw(":local addr [/ip hotspot host get $h address]")
	host.Raw("/ip firewall address-list remove [find where list=" + list + " and address=$addr and comment!=$mac]")
	host.Raw(":do " + check.Block() + " on-error={}")
	host.Raw(":do { /file remove " + file + " } on-error={}")

	var s routeros.Script
	s.Raw(":foreach h in=[/ip hotspot host find] do=" + host.Block())
	return s
}

// SchedulerScript installs SyncScript as a recurring router task. The inner
// script is serialised once and passed as a single quoted argument.
func SchedulerScript(t Topology) routeros.Script {
	var s routeros.Script
	s.Remove("/system scheduler", routeros.Find("name", t.SyncSchedulerName()))
	s.Append(installScheduler(t, t.Sync.Interval))
	return s
}

func installScheduler(t Topology, interval time.Duration) routeros.Script {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	var s routeros.Script
	s.Add("/system scheduler",
		routeros.A("name", t.SyncSchedulerName()),
		routeros.A("interval", FormatInterval(interval)),
		routeros.A("start-time", "startup"),
		routeros.A("on-event", SyncScript(t).Inline()))
	return s
}

// FormatInterval renders a duration the way router time arguments expect it
func FormatInterval(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs >= 3600 && secs%3600 == 0:
		return fmt.Sprintf("%dh", secs/3600)
	case secs >= 60 && secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
