// Package config loads and persists the brainsync client configuration.
// The file lives under the user config directory and environment
// variables override the persisted credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName  = "brainsync"
	ConfigFileName = "config.yaml"

	// TokenEnvVar overrides the persisted API token.
	TokenEnvVar = "BRAIN_TOKEN"
	// EndpointEnvVar overrides the persisted service endpoint.
	EndpointEnvVar = "BRAIN_ENDPOINT"
)

type Config struct {
	Version int          `yaml:"version"`
	Server  ServerConfig `yaml:"server"`
	Sync    SyncConfig   `yaml:"sync"`
	Output  OutputConfig `yaml:"output"`
}

type ServerConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token,omitempty"`
	// RequestTimeoutSec bounds unary API calls.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// StreamIdleTimeoutSec tears down a silent index stream.
	StreamIdleTimeoutSec int `yaml:"stream_idle_timeout_sec"`
}

type SyncConfig struct {
	// EagerPrefetch is how many repositories get their file detail loaded
	// up front during a bulk load.
	EagerPrefetch int `yaml:"eager_prefetch"`
	// RefreshIntervalSec is the background refresh cadence.
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	// IndexLimit is the default per-run file limit (1-1000).
	IndexLimit int `yaml:"index_limit"`
}

type OutputConfig struct {
	Format string `yaml:"format"` // table | json | toon
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Endpoint:             "http://localhost:8000",
			RequestTimeoutSec:    20,
			StreamIdleTimeoutSec: 90,
		},
		Sync: SyncConfig{
			EagerPrefetch:      3,
			RefreshIntervalSec: 180,
			IndexLimit:         50,
		},
		Output: OutputConfig{
			Format: "table",
		},
	}
}

// GetConfigDir returns the brainsync config directory, honoring
// XDG_CONFIG_HOME.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, ConfigDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", ConfigDirName), nil
}

// GetConfigPath returns the full path of the config file.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load reads the config file at path. An empty path means the default
// location. A missing file is not an error: defaults are returned so the
// tool works with environment variables alone.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Fill in values missing from older config files.
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Server.Endpoint == "" {
		c.Server.Endpoint = defaults.Server.Endpoint
	}
	if c.Server.RequestTimeoutSec <= 0 {
		c.Server.RequestTimeoutSec = defaults.Server.RequestTimeoutSec
	}
	if c.Server.StreamIdleTimeoutSec <= 0 {
		c.Server.StreamIdleTimeoutSec = defaults.Server.StreamIdleTimeoutSec
	}

	if c.Sync.EagerPrefetch <= 0 {
		c.Sync.EagerPrefetch = defaults.Sync.EagerPrefetch
	}
	if c.Sync.RefreshIntervalSec <= 0 {
		c.Sync.RefreshIntervalSec = defaults.Sync.RefreshIntervalSec
	}
	if c.Sync.IndexLimit <= 0 {
		c.Sync.IndexLimit = defaults.Sync.IndexLimit
	}

	if c.Output.Format == "" {
		c.Output.Format = defaults.Output.Format
	}
}

// Save writes the config to path, creating parent directories. An empty
// path means the default location. The file is written 0600 because it
// may carry the API token.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether a config file is present at the default location.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// ResolveToken returns the API token, preferring the environment.
func (c *Config) ResolveToken() string {
	if tok := os.Getenv(TokenEnvVar); tok != "" {
		return tok
	}
	return c.Server.Token
}

// ResolveEndpoint returns the service endpoint, preferring the environment.
func (c *Config) ResolveEndpoint() string {
	if ep := os.Getenv(EndpointEnvVar); ep != "" {
		return ep
	}
	return c.Server.Endpoint
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.Server.StreamIdleTimeoutSec) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Sync.RefreshIntervalSec) * time.Second
}
