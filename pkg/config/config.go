// Package config loads relay configuration from an optional YAML file
// overlaid with STRTR_-prefixed environment variables and CLI-flag
// overrides, in that increasing order of precedence, mirroring the
// teacher's pkg/config layering.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the relay's full runtime configuration.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Features  FeaturesConfig  `yaml:"features"`
}

// NetworkConfig controls the listen address and optional TLS.
type NetworkConfig struct {
	Address string `yaml:"address"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// DatabaseConfig controls the sqlite backend, when selected.
type DatabaseConfig struct {
	Path            string `yaml:"path"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// ConnMaxLifetimeDuration converts ConnMaxLifetime to a time.Duration.
func (d *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

// RateLimitConfig sizes the per-connection outbound backpressure limiter
// (pkg/ratelimit). spec.md names inbound rate limiting a non-goal; this
// only governs how fast a write pump is allowed to drain.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	EventsPerSec int  `yaml:"events_per_sec"`
	Burst        int  `yaml:"burst"`
}

// LoggingConfig controls the standard logger's verbosity: Level "debug"
// adds file:line annotations; Format is accepted but not consulted.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FeaturesConfig toggles optional NIP extensions.
type FeaturesConfig struct {
	NIP50Search bool `yaml:"nip50"`
}

// DefaultConfig returns the relay's zero-config defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{Address: ":8080"},
		Database: DatabaseConfig{
			Path:            "relay.db",
			MaxOpenConns:    10,
			ConnMaxLifetime: 3600,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			EventsPerSec: 50,
			Burst:        100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Features: FeaturesConfig{
			NIP50Search: true,
		},
	}
}

// Validate checks the fields Load can't sanely default around.
func (c *Config) Validate() error {
	if c.Network.Address == "" {
		return fmt.Errorf("network.address must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if (c.Network.TLSCert == "") != (c.Network.TLSKey == "") {
		return fmt.Errorf("network.tls_cert and network.tls_key must both be set or both be empty")
	}
	return nil
}

// Loader loads a Config from an optional YAML file, then overlays
// STRTR_-prefixed environment variables.
type Loader struct {
	path string
}

// NewLoader constructs a Loader reading from path. An empty path skips the
// file and returns defaults overlaid with the environment.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// LoadWithArgs loads defaults, overlays the YAML file (if path is set and
// exists), then the environment, then args — cmd/relay's flag parser's
// logical keys (address, tls_cert, tls_key, db_path, log_level). A nil args
// skips that last layer.
func (l *Loader) LoadWithArgs(args map[string]string) (*Config, error) {
	cfg := DefaultConfig()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyArgs(cfg, args)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STRTR_ADDRESS"); v != "" {
		cfg.Network.Address = v
	}
	if v := os.Getenv("STRTR_TLS_CERT"); v != "" {
		cfg.Network.TLSCert = v
	}
	if v := os.Getenv("STRTR_TLS_KEY"); v != "" {
		cfg.Network.TLSKey = v
	}
	if v := os.Getenv("STRTR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STRTR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STRTR_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v != "false" && v != "0"
	}
	if v := os.Getenv("STRTR_FEATURE_NIP50"); v != "" {
		cfg.Features.NIP50Search = v == "true" || v == "1"
	}
}

func applyArgs(cfg *Config, args map[string]string) {
	if args == nil {
		return
	}
	if v, ok := args["address"]; ok && v != "" {
		cfg.Network.Address = v
	}
	if v, ok := args["tls_cert"]; ok && v != "" {
		cfg.Network.TLSCert = v
	}
	if v, ok := args["tls_key"]; ok && v != "" {
		cfg.Network.TLSKey = v
	}
	if v, ok := args["db_path"]; ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := args["log_level"]; ok && v != "" {
		cfg.Logging.Level = v
	}
}
