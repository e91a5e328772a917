package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/pkg/version"
)

const (
	EnvAPIHost       = "API_HOST"
	EnvAPIPort       = "API_PORT"
	EnvPublicBaseURL = "PUBLIC_BASE_URL"
	EnvLogLevel      = "LOG_LEVEL"

	EnvStorageBackend          = "STORAGE_BACKEND"
	EnvDatabaseURL             = "DATABASE_URL"
	EnvBoltPath                = "BOLT_PATH"
	EnvFirebaseCredentialsPath = "FIREBASE_CREDENTIALS_PATH"
	EnvFirestoreProjectID      = "FIRESTORE_PROJECT_ID"

	EnvRouterAddr               = "ROUTER_ADDR"
	EnvRouterUser               = "ROUTER_USER"
	EnvRouterPassword           = "ROUTER_PASSWORD"
	EnvRouterKeyPath            = "ROUTER_KEY_PATH"
	EnvRouterHostKeyFingerprint = "ROUTER_HOST_KEY_FINGERPRINT"
	EnvRouterDialTimeout        = "ROUTER_DIAL_TIMEOUT"
	EnvRouterCommandTimeout     = "ROUTER_COMMAND_TIMEOUT"
	EnvRouterPushOnRegister     = "ROUTER_PUSH_ON_REGISTER"

	EnvHotspotName             = "HOTSPOT_NAME"
	EnvHotspotInterface        = "HOTSPOT_INTERFACE"
	EnvHotspotGatewayCIDR      = "HOTSPOT_GATEWAY_CIDR"
	EnvHotspotPoolStart        = "HOTSPOT_POOL_START"
	EnvHotspotPoolEnd          = "HOTSPOT_POOL_END"
	EnvHotspotDNS              = "HOTSPOT_DNS"
	EnvHotspotManagementPort   = "HOTSPOT_MANAGEMENT_PORT"
	EnvHotspotHTMLDirectory    = "HOTSPOT_HTML_DIRECTORY"
	EnvHotspotBridgePorts      = "HOTSPOT_BRIDGE_PORTS"
	EnvHotspotNATInterface     = "HOTSPOT_NAT_INTERFACE"
	EnvHotspotSNMP             = "HOTSPOT_SNMP"
	EnvHotspotAutoBackup       = "HOTSPOT_AUTO_BACKUP"
	EnvHotspotFirmwareInterval = "HOTSPOT_FIRMWARE_UPDATE_INTERVAL"
	EnvHotspotSync             = "HOTSPOT_SYNC"
	EnvSyncInterval            = "SYNC_INTERVAL"
	EnvSyncFetchTimeout        = "SYNC_FETCH_TIMEOUT"

	EnvRegistrationTokenSecret = "REGISTRATION_TOKEN_SECRET"
	EnvRegistrationTokenTTL    = "REGISTRATION_TOKEN_TTL"
	EnvAdminTokenSecret        = "ADMIN_TOKEN_SECRET"

	EnvResendAPIKey  = "RESEND_API_KEY"
	EnvFromEmail     = "FROM_EMAIL"
	EnvOperatorEmail = "OPERATOR_EMAIL"
	EnvSkipEmailSend = "SKIP_EMAIL_SEND"

	BackendPostgres  = "postgres"
	BackendBolt      = "bolt"
	BackendFirestore = "firestore"
)

type StorageConfig struct {
	Backend                 string
	DatabaseURL             string
	BoltPath                string
	FirebaseCredentialsPath string
	FirestoreProjectID      string
}

type RouterConfig struct {
	Addr               string
	User               string
	Password           string
	KeyPath            string
	HostKeyFingerprint string
	DialTimeout        time.Duration
	CommandTimeout     time.Duration
	PushOnRegister     bool
}

// Enabled reports whether a router is configured for direct provisioning
func (r RouterConfig) Enabled() bool {
	return r.Addr != ""
}

// SSHConfig resolves the transport settings, reading the private key from disk if set
func (r RouterConfig) SSHConfig() (routeros.SSHConfig, error) {
	cfg := routeros.SSHConfig{
		Addr:               r.Addr,
		User:               r.User,
		Password:           r.Password,
		HostKeyFingerprint: r.HostKeyFingerprint,
		DialTimeout:        r.DialTimeout,
		CommandTimeout:     r.CommandTimeout,
		ClientVersion:      version.SSHClientVersion("madric-server"),
	}
	if r.KeyPath != "" {
		key, err := os.ReadFile(r.KeyPath)
		if err != nil {
			return routeros.SSHConfig{}, fmt.Errorf("reading router key %q: %w", r.KeyPath, err)
		}
		cfg.PrivateKey = key
	}
	return cfg, nil
}

type EmailConfig struct {
	ResendAPIKey  string
	FromEmail     string
	OperatorEmail string
	SkipSend      bool
}

// Enabled reports whether operator notifications can be sent
func (e EmailConfig) Enabled() bool {
	return e.ResendAPIKey != "" && e.OperatorEmail != ""
}

// Config holds server runtime configuration loaded from environment variables.
type Config struct {
	APIHost       string
	APIPort       int
	PublicBaseURL string
	LogLevel      string

	// PublicBaseURLSet is false when PublicBaseURL fell back to localhost.
	// The router cannot reach that address, so access sync stays off.
	PublicBaseURLSet bool

	Storage  StorageConfig
	Router   RouterConfig
	Topology hotspot.Topology

	RegistrationTokenSecret string
	RegistrationTokenTTL    time.Duration
	AdminTokenSecret        string

	Email EmailConfig
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// LoadFromEnv loads and validates configuration from environment variables.
func LoadFromEnv() (Config, error) {
	env := &envParser{}
	cfg := Config{
		APIHost:  envOrDefault(EnvAPIHost, "0.0.0.0"),
		APIPort:  env.intOrDefault(EnvAPIPort, 8080),
		LogLevel: envOrDefault(EnvLogLevel, "info"),
		Storage: StorageConfig{
			Backend:                 strings.ToLower(envOrDefault(EnvStorageBackend, BackendBolt)),
			DatabaseURL:             strings.TrimSpace(os.Getenv(EnvDatabaseURL)),
			BoltPath:                envOrDefault(EnvBoltPath, "madric.db"),
			FirebaseCredentialsPath: strings.TrimSpace(os.Getenv(EnvFirebaseCredentialsPath)),
			FirestoreProjectID:      strings.TrimSpace(os.Getenv(EnvFirestoreProjectID)),
		},
		Router: RouterConfig{
			Addr:               strings.TrimSpace(os.Getenv(EnvRouterAddr)),
			User:               envOrDefault(EnvRouterUser, "admin"),
			Password:           os.Getenv(EnvRouterPassword),
			KeyPath:            strings.TrimSpace(os.Getenv(EnvRouterKeyPath)),
			HostKeyFingerprint: strings.TrimSpace(os.Getenv(EnvRouterHostKeyFingerprint)),
			DialTimeout:        env.durationOrDefault(EnvRouterDialTimeout, routeros.DefaultDialTimeout),
			CommandTimeout:     env.durationOrDefault(EnvRouterCommandTimeout, routeros.DefaultCommandTimeout),
			PushOnRegister:     env.boolOrDefault(EnvRouterPushOnRegister, true),
		},
		RegistrationTokenSecret: os.Getenv(EnvRegistrationTokenSecret),
		RegistrationTokenTTL:    env.durationOrDefault(EnvRegistrationTokenTTL, 24*time.Hour),
		AdminTokenSecret:        os.Getenv(EnvAdminTokenSecret),
		Email: EmailConfig{
			ResendAPIKey:  strings.TrimSpace(os.Getenv(EnvResendAPIKey)),
			FromEmail:     envOrDefault(EnvFromEmail, "noreply@madric.app"),
			OperatorEmail: strings.TrimSpace(os.Getenv(EnvOperatorEmail)),
			SkipSend:      env.boolOrDefault(EnvSkipEmailSend, false),
		},
	}

	cfg.PublicBaseURLSet = strings.TrimSpace(os.Getenv(EnvPublicBaseURL)) != ""
	cfg.PublicBaseURL = strings.TrimRight(envOrDefault(EnvPublicBaseURL, fmt.Sprintf("http://localhost:%d", cfg.APIPort)), "/")
	cfg.Topology = topologyFromEnv(env, cfg.PublicBaseURL, cfg.PublicBaseURLSet)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func topologyFromEnv(env *envParser, publicBaseURL string, publicBaseURLSet bool) hotspot.Topology {
	t := hotspot.DefaultTopology()
	t.Name = envOrDefault(EnvHotspotName, t.Name)
	t.Interface = envOrDefault(EnvHotspotInterface, t.Interface)
	t.GatewayCIDR = envOrDefault(EnvHotspotGatewayCIDR, t.GatewayCIDR)
	t.PoolStart = strings.TrimSpace(os.Getenv(EnvHotspotPoolStart))
	t.PoolEnd = strings.TrimSpace(os.Getenv(EnvHotspotPoolEnd))
	if dns := listEnv(EnvHotspotDNS); dns != nil {
		t.DNSServers = dns
	}
	t.ManagementPort = env.intOrDefault(EnvHotspotManagementPort, t.ManagementPort)
	t.HTMLDirectory = envOrDefault(EnvHotspotHTMLDirectory, t.HTMLDirectory)

	if ports := listEnv(EnvHotspotBridgePorts); ports != nil {
		t.Bridge = &hotspot.BridgeConfig{Ports: ports}
	}
	if out := strings.TrimSpace(os.Getenv(EnvHotspotNATInterface)); out != "" {
		t.NAT = &hotspot.NATConfig{OutInterface: out}
	}
	t.EnableSNMP = env.boolOrDefault(EnvHotspotSNMP, true)
	t.AutoBackup = env.boolOrDefault(EnvHotspotAutoBackup, true)
	t.FirmwareUpdateInterval = envOrDefault(EnvHotspotFirmwareInterval, "1d")
	if strings.EqualFold(t.FirmwareUpdateInterval, "off") {
		t.FirmwareUpdateInterval = ""
	}

	syncEnabled := env.boolOrDefault(EnvHotspotSync, true)
	syncInterval := env.durationOrDefault(EnvSyncInterval, hotspot.DefaultSyncInterval)
	fetchTimeout := env.durationOrDefault(EnvSyncFetchTimeout, 0)
	if syncEnabled && publicBaseURLSet {
		t.Sync = &hotspot.SyncConfig{
			BaseURL:      publicBaseURL,
			Interval:     syncInterval,
			FetchTimeout: fetchTimeout,
		}
	}
	return t
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("invalid %s: must be in range 1..65535", EnvAPIPort)
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: must be an http(s) URL", EnvPublicBaseURL)
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("invalid %s: required for the %s backend", EnvDatabaseURL, BackendPostgres)
		}
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("invalid %s: must not be empty", EnvBoltPath)
		}
	case BackendFirestore:
		if c.Storage.FirebaseCredentialsPath == "" && c.Storage.FirestoreProjectID == "" {
			return fmt.Errorf("invalid config: %s or %s required for the %s backend",
				EnvFirebaseCredentialsPath, EnvFirestoreProjectID, BackendFirestore)
		}
	default:
		return fmt.Errorf("invalid %s: must be one of %s, %s, %s",
			EnvStorageBackend, BackendPostgres, BackendBolt, BackendFirestore)
	}

	if c.Router.Enabled() {
		if c.Router.User == "" {
			return fmt.Errorf("invalid %s: must not be empty", EnvRouterUser)
		}
		if c.Router.Password == "" && c.Router.KeyPath == "" {
			return fmt.Errorf("invalid config: %s or %s required when %s is set",
				EnvRouterPassword, EnvRouterKeyPath, EnvRouterAddr)
		}
		if c.Router.DialTimeout <= 0 || c.Router.CommandTimeout <= 0 {
			return fmt.Errorf("invalid config: router timeouts must be > 0")
		}
	}

	if err := c.Topology.Validate(); err != nil {
		return fmt.Errorf("invalid hotspot topology: %w", err)
	}
	if c.RegistrationTokenSecret != "" && c.RegistrationTokenTTL <= 0 {
		return fmt.Errorf("invalid %s: must be > 0", EnvRegistrationTokenTTL)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envParser collects malformed values instead of silently using defaults
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, value, want string) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %q is not %s", key, value, want))
}

func (p *envParser) intOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, "an integer")
		return fallback
	}
	return n
}

func (p *envParser) boolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "a boolean")
		return fallback
	}
	return b
}

// durationOrDefault accepts Go durations ("90s") or plain seconds ("90")
func (p *envParser) durationOrDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	p.fail(key, v, "a duration")
	return fallback
}

func listEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
