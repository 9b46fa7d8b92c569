package config

import (
	"time"

	"github.com/spf13/viper"
)

// QueueConfig tunes the sync job queue worker.
type QueueConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Parallelism  int           `mapstructure:"parallelism"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	Retention    time.Duration `mapstructure:"retention"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ServeConfig holds the webhook server settings.
type ServeConfig struct {
	Addr          string        `mapstructure:"addr"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Watch         bool          `mapstructure:"watch"`
}

// HostAPIConfig holds hosting-provider API settings for repo stats.
type HostAPIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Config holds all runtime configuration for a modsync invocation.
// Values are populated from .modsync.yaml, MODSYNC_* env vars, and CLI flags.
type Config struct {
	RepoRoot      string        `mapstructure:"repo_root"`
	DBPath        string        `mapstructure:"db_path"`
	TelemetryPath string        `mapstructure:"telemetry_path"`
	GitTimeout    time.Duration `mapstructure:"git_timeout"`
	Verbose       bool          `mapstructure:"verbose"`
	Queue         QueueConfig   `mapstructure:"queue"`
	Serve         ServeConfig   `mapstructure:"serve"`
	HostAPI       HostAPIConfig `mapstructure:"host_api"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	viper.SetDefault("repo_root", ".")
	viper.SetDefault("db_path", ".modsync/modsync.db")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("git_timeout", 2*time.Minute)
	viper.SetDefault("verbose", false)
	viper.SetDefault("queue.tick_interval", 5*time.Second)
	viper.SetDefault("queue.batch_size", 8)
	viper.SetDefault("queue.parallelism", 4)
	viper.SetDefault("queue.stale_after", 15*time.Minute)
	viper.SetDefault("queue.retention", 7*24*time.Hour)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("serve.addr", ":8476")
	viper.SetDefault("serve.sweep_interval", 30*time.Minute)
	viper.SetDefault("serve.watch", true)
	viper.SetDefault("host_api.base_url", "")
	viper.SetDefault("host_api.token", "")
	viper.SetDefault("host_api.cache_ttl", 5*time.Minute)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
