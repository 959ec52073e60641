// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location when set
const EnvConfigPath = "POINTER_CONFIG"

// Duration wraps time.Duration for YAML values like "5m" or "30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GCConfig controls the garbage collector loop
type GCConfig struct {
	Interval   Duration `yaml:"interval,omitempty"`
	MinBlobAge Duration `yaml:"min_blob_age,omitempty"`
	BatchSize  int      `yaml:"batch_size,omitempty"`
}

// RetentionConfig controls the retention sweep loop
type RetentionConfig struct {
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// IngestConfig controls report ingestion
type IngestConfig struct {
	Workers   int `yaml:"workers,omitempty"`
	BatchSize int `yaml:"batch_size,omitempty"`
}

// NameCacheConfig controls the background cache maintainer
type NameCacheConfig struct {
	QueueSize       int      `yaml:"queue_size,omitempty"`
	BatchSize       int      `yaml:"batch_size,omitempty"`
	CleanupInterval Duration `yaml:"cleanup_interval,omitempty"`
}

// Config is the in-memory representation of pointer.yaml
type Config struct {
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level,omitempty"`
	GC        GCConfig        `yaml:"gc,omitempty"`
	Retention RetentionConfig `yaml:"retention,omitempty"`
	Ingest    IngestConfig    `yaml:"ingest,omitempty"`
	NameCache NameCacheConfig `yaml:"name_cache,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DBPath:   "pointer.db",
		LogLevel: "info",
		GC: GCConfig{
			Interval:   Duration(10 * time.Minute),
			MinBlobAge: Duration(5 * time.Minute),
			BatchSize:  200,
		},
		Retention: RetentionConfig{
			SweepInterval: Duration(time.Hour),
		},
		Ingest: IngestConfig{
			BatchSize: 20,
		},
		NameCache: NameCacheConfig{
			QueueSize:       4096,
			BatchSize:       256,
			CleanupInterval: Duration(time.Hour),
		},
	}
}

// Load reads a config file, filling unset fields with defaults. An
// empty path falls back to the POINTER_CONFIG environment variable;
// when neither names a file, defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.GC.Interval < 0 || c.GC.MinBlobAge < 0 || c.Retention.SweepInterval < 0 || c.NameCache.CleanupInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}
