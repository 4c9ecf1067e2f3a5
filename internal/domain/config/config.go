// Package config holds the ToolBay plugin subsystem configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// DefaultConfigName is the config file looked up in the ToolBay home.
const DefaultConfigName = "toolbay.toml"

// Config errors.
var (
	ErrConfigCorrupt = errors.New("config file corrupt")
)

// Config is the persisted configuration of the plugin subsystem.
type Config struct {
	// RegistryURL is the base URL of the plugin registry.
	RegistryURL string `toml:"registry_url"`
	// AuthToken is an optional registry authentication token.
	AuthToken string `toml:"auth_token,omitempty"`
	// TimeoutSeconds is the registry HTTP timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// LedgerPath is where the installed-plugin ledger lives.
	LedgerPath string `toml:"ledger_path"`
	// PluginsDir is where plugin packages are stored.
	PluginsDir string `toml:"plugins_dir"`
	// Prefetch bounds concurrent manifest fetches during resolution.
	Prefetch int `toml:"prefetch"`
}

// Default returns the default configuration rooted in the user's ToolBay
// home directory.
func Default() Config {
	home := toolbayHome()
	return Config{
		RegistryURL:    registry.DefaultRegistryURL,
		TimeoutSeconds: 30,
		LedgerPath:     filepath.Join(home, "ledger.yaml"),
		PluginsDir:     filepath.Join(home, "plugins"),
		Prefetch:       4,
	}
}

// Load reads configuration from path, falling back to defaults for a
// missing file and for any unset field.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("%w: %w", ErrConfigCorrupt, err)
	}

	defaults := Default()
	if cfg.RegistryURL == "" {
		cfg.RegistryURL = defaults.RegistryURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = defaults.LedgerPath
	}
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = defaults.PluginsDir
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaults.Prefetch
	}

	return cfg, nil
}

// Save writes configuration to path.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ClientConfig derives the registry client configuration.
func (c Config) ClientConfig() registry.ClientConfig {
	cc := registry.DefaultClientConfig()
	cc.RegistryURL = c.RegistryURL
	cc.AuthToken = c.AuthToken
	cc.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	return cc
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(toolbayHome(), DefaultConfigName)
}

func toolbayHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolbay"
	}
	return filepath.Join(home, ".toolbay")
}
