// Package config loads and validates kirorelay's YAML configuration: server
// binding, dispatch parameters, credential pool location, HTTP client
// tuning, and logging.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is kirorelay's top-level configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the API server binds to. Empty means all interfaces.
	Host string `yaml:"host" json:"host"`
	// Port is the API server's listen port.
	Port int `yaml:"port" json:"port"`
	// Debug is loaded from the config file but is not read anywhere else; it
	// does not change logging, whose verbosity is set by Log.Level.
	Debug bool `yaml:"debug" json:"debug"`

	// APIKeys authenticates clients calling this server's own endpoints.
	APIKeys []string `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// CredentialPoolPath points at the YAML file credstore.LoadPool reads.
	CredentialPoolPath string `yaml:"credential-pool-path" json:"credential-pool-path"`

	// Dispatch holds the parameters fed into kirodispatch.Config.
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch"`

	// HTTPClient tunes the shared outbound client built by httpclientfactory.
	HTTPClient HTTPClientConfig `yaml:"http-client" json:"http-client"`

	// Log configures process logging.
	Log LogConfig `yaml:"log" json:"log"`
}

// DispatchConfig mirrors kirodispatch.Config's fields for YAML loading.
type DispatchConfig struct {
	Region        string `yaml:"region" json:"region"`
	KiroVersion   string `yaml:"kiro-version" json:"kiro-version"`
	SystemVersion string `yaml:"system-version" json:"system-version"`
	NodeVersion   string `yaml:"node-version" json:"node-version"`
}

// HTTPClientConfig mirrors httpclientfactory.Options' user-facing fields.
type HTTPClientConfig struct {
	ProxyURL   string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
	TLSBackend string `yaml:"tls-backend,omitempty" json:"tls-backend,omitempty"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// LoadConfig reads and parses the YAML file at path. A missing or malformed
// file is always an error; callers that want graceful fallback should use
// LoadConfigOptional.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadConfigOptional behaves like LoadConfig, except when optional is true:
// a missing file or a YAML parse error then yields a zero-value Config and a
// nil error instead of failing, so a first run with no config file on disk
// can still start with defaults.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if optional {
			return &Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks structural invariants LoadConfig cannot express in
// YAML tags alone: a nil config or an out-of-range port is rejected.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", cfg.Port)
	}
	return nil
}
