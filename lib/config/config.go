// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Palaver.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Backend configures the hosted backend connection.
	Backend BackendConfig `yaml:"backend"`

	// Call configures call behavior.
	Call CallConfig `yaml:"call"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Backend *BackendConfig `yaml:"backend,omitempty"`
	Call    *CallConfig    `yaml:"call,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// BackendConfig configures the hosted backend connection.
type BackendConfig struct {
	// BaseURL is the project base URL (e.g. "https://app.example.com").
	BaseURL string `yaml:"base_url"`

	// APIKey is the project's public API key.
	APIKey string `yaml:"api_key"`

	// AccessToken is the user session token. Usually supplied by the
	// session layer at runtime rather than from the file.
	AccessToken string `yaml:"access_token,omitempty"`

	// RealtimeURL overrides the websocket endpoint derived from
	// BaseURL. Rarely needed outside tests.
	RealtimeURL string `yaml:"realtime_url,omitempty"`
}

// CallConfig configures call behavior.
type CallConfig struct {
	// RingTimeout abandons an unanswered outgoing call after this
	// long. Zero rings until somebody decides.
	RingTimeout time.Duration `yaml:"ring_timeout"`

	// STUNServers lists the STUN URLs for ICE. Empty means the
	// built-in default.
	STUNServers []string `yaml:"stun_servers,omitempty"`

	// PollInterval is the ledger reconciliation period. Zero means
	// the built-in default (3s).
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum slog level: debug, info, warn, error.
	// Default: info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text.
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are a base
// before loading the config file; the file is still required for the
// backend credentials.
func Default() *Config {
	return &Config{
		Environment: Development,
		Call: CallConfig{
			RingTimeout: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the PALAVER_CONFIG environment
// variable. There are no fallbacks: if PALAVER_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("PALAVER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PALAVER_CONFIG environment variable not set; " +
			"set it to the path of your palaver.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyOverrides merges the section matching cfg.Environment over the
// base values.
func (c *Config) applyOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Backend != nil {
		c.Backend = *overrides.Backend
	}
	if overrides.Call != nil {
		c.Call = *overrides.Call
	}
	if overrides.Logging != nil {
		c.Logging = *overrides.Logging
	}
}

// Validate checks the loaded configuration for the mistakes that would
// otherwise surface as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required")
	}
	if c.Call.RingTimeout < 0 {
		return fmt.Errorf("call.ring_timeout must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
