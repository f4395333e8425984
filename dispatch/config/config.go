// Package config loads dispatcher configuration from a YAML file or
// environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the dispatch library. The values
// are read by viper from a config file or environment variables
// (DISPATCH_ prefix, dots replaced by underscores).
type Config struct {
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// DispatchConfig bounds concurrency at the job and item level. These
// caps exist to limit memory and connection usage; API throughput is
// governed by the quota settings.
type DispatchConfig struct {
	MaxConcurrentJobs       int `mapstructure:"max_concurrent_jobs"`
	MaxConcurrentItemsFast  int `mapstructure:"max_concurrent_items_fast"`
	MaxConcurrentItemsHeavy int `mapstructure:"max_concurrent_items_heavy"`
}

// QuotaConfig sets per-class sliding-window capacities. Capacities are
// requests per window, shared across every job in the process.
type QuotaConfig struct {
	CapacityFast  int           `mapstructure:"capacity_fast"`
	CapacityHeavy int           `mapstructure:"capacity_heavy"`
	Window        time.Duration `mapstructure:"window"`
}

// GeneratorConfig points at the external generation API.
type GeneratorConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
}

// DatabaseConfig stores the embedded database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from the given file, or from ./dispatch.yaml
// and the environment when path is empty. Missing files are fine; every
// option has a default.
func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("dispatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DISPATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("dispatch.max_concurrent_jobs", 3)
	viper.SetDefault("dispatch.max_concurrent_items_fast", 8)
	viper.SetDefault("dispatch.max_concurrent_items_heavy", 2)

	viper.SetDefault("quota.capacity_fast", 15)
	viper.SetDefault("quota.capacity_heavy", 5)
	viper.SetDefault("quota.window", "60s")

	viper.SetDefault("generator.endpoint", "http://localhost:8089/v1/generate")
	viper.SetDefault("generator.api_key", "")
	viper.SetDefault("generator.timeout", "120s")
	viper.SetDefault("generator.retry_max", 2)

	viper.SetDefault("database.path", "dispatch.db")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file falls back to defaults and env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Dispatch.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config: dispatch.max_concurrent_jobs must be >= 1")
	}
	if c.Dispatch.MaxConcurrentItemsFast < 1 || c.Dispatch.MaxConcurrentItemsHeavy < 1 {
		return fmt.Errorf("config: per-class item concurrency must be >= 1")
	}
	if c.Quota.CapacityFast < 1 || c.Quota.CapacityHeavy < 1 {
		return fmt.Errorf("config: quota capacities must be >= 1")
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("config: quota.window must be positive")
	}
	return nil
}
