package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kamikazebr/madric/pkg/utils"
)

const (
	ConfigFile = "config.json"

	// EnvHome overrides the config directory
	EnvHome = "MADRIC_HOME"

	DefaultServerURL = "http://localhost:8080"
)

// GetConfigDir returns $MADRIC_HOME or ~/.madric
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user directory: %w", err)
	}
	return filepath.Join(home, ".madric"), nil
}

type Config struct {
	ServerURL string `json:"server_url"`

	// Bearer token for /admin routes, minted with "madric-server admin admin-token"
	AdminToken string    `json:"admin_token,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`

	// Last device linked from this machine
	DeviceID string `json:"device_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func DefaultConfig() *Config {
	return &Config{
		ServerURL: DefaultServerURL,
		CreatedAt: time.Now(),
	}
}

// Load loads the configuration from disk. It returns nil, nil when none exists.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(configDir, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.ServerURL == "" {
		config.ServerURL = DefaultServerURL
	}
	return &config, nil
}

// LoadOrDefault never returns a nil config
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return DefaultConfig(), nil
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := utils.MkdirAllWithOwnership(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := utils.WriteFileWithOwnership(filepath.Join(configDir, ConfigFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func Delete() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(configDir, ConfigFile))
}

// HasToken reports whether an admin token is stored and not known to be expired
func (c *Config) HasToken(now time.Time) bool {
	if c.AdminToken == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}
