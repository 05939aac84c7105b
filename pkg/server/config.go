package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gnomegg/chatd/pkg/registry"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`  // TCP bind address for chat clients (e.g. ":9300")
	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)
	DBPath      string `yaml:"db_path"`      // SQLite database path
	RedisAddr   string `yaml:"redis_addr"`   // Redis address; empty keeps moderation in SQLite only

	QueueDepth    int      `yaml:"queue_depth"`    // outbound events buffered per session
	IdleTimeout   Duration `yaml:"idle_timeout"`   // sessions silent this long are reaped
	SweepInterval Duration `yaml:"sweep_interval"` // how often expired moderation entries are swept
	SubOnly       bool     `yaml:"sub_only"`       // start with subscriber-only mode on
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":9300",
		MetricsAddr:   ":9302",
		DBPath:        "chatd.db",
		QueueDepth:    registry.DefaultQueueDepth,
		IdleTimeout:   Duration(2 * time.Minute),
		SweepInterval: Duration(time.Minute),
	}
}

// LoadConfig reads a YAML config file and fills unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config for nonsensical values.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("config: queue_depth must be positive, got %d", c.QueueDepth)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep_interval must be positive")
	}
	return nil
}
