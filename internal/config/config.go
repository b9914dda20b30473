// Package config loads the configuration of sntrayd.
//
// Values are layered: defaults, then an optional YAML file, then SNTRAY_*
// environment variables. Command line flags are applied on top by the
// daemon itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/shelepuginivan/sntray"
	"github.com/shelepuginivan/sntray/internal/logging"
)

// EnvPrefix prefixes environment variables, e.g. SNTRAY_WATCHER_ENABLED.
const EnvPrefix = "sntray"

// Config holds the daemon configuration.
type Config struct {
	Watcher WatcherConfig `yaml:"watcher"`
	Host    HostConfig    `yaml:"host"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// WatcherConfig controls the StatusNotifierWatcher run by the daemon.
type WatcherConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`

	// Suffix is appended to the well-known watcher name, so that a test
	// session does not replace the desktop's watcher.
	Suffix string `yaml:"suffix" envconfig:"SUFFIX"`
}

// HostConfig controls the StatusNotifierHost run by the daemon.
type HostConfig struct {
	Enabled         bool          `yaml:"enabled" envconfig:"ENABLED"`
	ScrollThreshold float64       `yaml:"scroll_threshold" envconfig:"SCROLL_THRESHOLD"`
	CallTimeout     time.Duration `yaml:"call_timeout" envconfig:"CALL_TIMEOUT"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEV"`
}

// MetricsConfig holds the address of the Prometheus endpoint. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			Enabled: true,
		},
		Host: HostConfig{
			Enabled:         true,
			ScrollThreshold: sntray.DefaultScrollThreshold,
			CallTimeout:     sntray.DefaultCallTimeout,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the default configuration overridden by the YAML file at
// path, if path is not empty, and by environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// Fields without a matching variable keep their value.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports configuration that cannot be run.
func (c *Config) Validate() error {
	if !c.Watcher.Enabled && !c.Host.Enabled {
		return errors.New("invalid config: neither watcher nor host is enabled")
	}

	if c.Host.ScrollThreshold <= 0 {
		return fmt.Errorf("invalid config: scroll threshold must be positive, got %v", c.Host.ScrollThreshold)
	}

	if c.Host.CallTimeout <= 0 {
		return fmt.Errorf("invalid config: call timeout must be positive, got %v", c.Host.CallTimeout)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// LoggerConfig returns the configuration of the daemon logger.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Development = c.Logging.Development

	return cfg
}
