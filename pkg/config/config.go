package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRoot is the store directory used when none is configured.
const DefaultRoot = "./db.kvlite"

type Config struct {
	Root            string        `yaml:"root"`
	Sync            bool          `yaml:"sync"`
	CompressMinSize int           `yaml:"compress_min_size"`
	OrphanAge       time.Duration `yaml:"orphan_age"`
	CacheSize       int           `yaml:"cache_size"`
	LogLevel        string        `yaml:"log_level"`
	LogJSON         bool          `yaml:"log_json"`
	MetricsFile     string        `yaml:"metrics_file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Root:      DefaultRoot,
		Sync:      true,
		OrphanAge: 15 * time.Minute,
		LogLevel:  "warn",
	}
}

// LoadConfig loads configuration from a YAML file if path is provided,
// then applies environment variable overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required (set via KVL_ROOT or config file)")
	}
	if c.CompressMinSize < 0 {
		return fmt.Errorf("compress_min_size must not be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	// Zero would remove the temporary files of writers in other processes.
	if c.OrphanAge == 0 {
		return fmt.Errorf("orphan_age must be positive, or negative to disable the sweep on open")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// applyEnvOverrides allows environment variables to override YAML config values
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("KVL_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("KVL_SYNC"); v != "" {
		sync, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KVL_SYNC value: %w", err)
		}
		cfg.Sync = sync
	}
	if v := os.Getenv("KVL_COMPRESS_MIN_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KVL_COMPRESS_MIN_SIZE value: %w", err)
		}
		cfg.CompressMinSize = n
	}
	if v := os.Getenv("KVL_ORPHAN_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid KVL_ORPHAN_AGE value: %w", err)
		}
		cfg.OrphanAge = d
	}
	if v := os.Getenv("KVL_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KVL_CACHE_SIZE value: %w", err)
		}
		cfg.CacheSize = n
	}
	if v := os.Getenv("KVL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KVL_LOG_JSON"); v != "" {
		logJSON, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KVL_LOG_JSON value: %w", err)
		}
		cfg.LogJSON = logJSON
	}
	if v := os.Getenv("KVL_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	return nil
}
