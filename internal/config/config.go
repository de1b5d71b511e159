// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bounds on the worker pool size.
const (
	MinPoolSize = 1
	MaxPoolSize = 1000
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Input   InputConfig   `mapstructure:"input"`
	Output  OutputConfig  `mapstructure:"output"`
	Results ResultsConfig `mapstructure:"results"`
	Archive ArchiveConfig `mapstructure:"archive"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PoolConfig governs the worker pool and its queue.
type PoolConfig struct {
	Size                int `mapstructure:"size"`
	QueueCapacity       int `mapstructure:"queue_capacity"`
	ProgressLogInterval int `mapstructure:"progress_log_interval"`
}

// FetchConfig configures the per-request HTTP behavior.
type FetchConfig struct {
	TimeoutConnectSeconds  int      `mapstructure:"timeout_connect_seconds"`
	TimeoutReadSeconds     int      `mapstructure:"timeout_read_seconds"`
	TimeoutCooldownSeconds int      `mapstructure:"timeout_cooldown_seconds"`
	InsecureSkipVerify     bool     `mapstructure:"insecure_skip_verify"`
	RespectRobots          bool     `mapstructure:"respect_robots"`
	BrowserFamilies        []string `mapstructure:"browser_families"`
}

// InputConfig locates the zip list and describes how to build page URLs.
type InputConfig struct {
	Path        string `mapstructure:"path"`
	ZipColumn   string `mapstructure:"zip_column"`
	URLTemplate string `mapstructure:"url_template"`
	Limit       int    `mapstructure:"limit"`
}

// OutputConfig controls the reconciled export.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// ResultsConfig selects the raw result store.
type ResultsConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ArchiveConfig selects where raw pages are archived, if anywhere.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// MetricsConfig controls the ops HTTP listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZIPCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.size", 50)
	v.SetDefault("pool.queue_capacity", 0)
	v.SetDefault("pool.progress_log_interval", 100)
	v.SetDefault("fetch.timeout_connect_seconds", 30)
	v.SetDefault("fetch.timeout_read_seconds", 30)
	v.SetDefault("fetch.timeout_cooldown_seconds", 60)
	v.SetDefault("fetch.insecure_skip_verify", false)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.browser_families", []string{})
	v.SetDefault("input.path", "data/raw/zipcde.csv")
	v.SetDefault("input.zip_column", "zip")
	v.SetDefault("input.url_template", "https://www.zip-codes.com/zip-code/{zip}/zip-code-{zip}.asp")
	v.SetDefault("input.limit", 0)
	v.SetDefault("output.format", "csv")
	v.SetDefault("results.backend", "memory")
	v.SetDefault("results.redis_addr", "localhost:6379")
	v.SetDefault("results.key_prefix", "zipcrawler")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("db.table", "zip_records")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pool.Size < MinPoolSize || c.Pool.Size > MaxPoolSize {
		return fmt.Errorf("pool.size must be between %d and %d", MinPoolSize, MaxPoolSize)
	}
	if c.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be >= 0")
	}
	if c.Pool.ProgressLogInterval < 0 {
		return fmt.Errorf("pool.progress_log_interval must be >= 0")
	}
	if c.Fetch.TimeoutConnectSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_connect_seconds must be > 0")
	}
	if c.Fetch.TimeoutReadSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_read_seconds must be > 0")
	}
	if c.Fetch.TimeoutCooldownSeconds < 0 {
		return fmt.Errorf("fetch.timeout_cooldown_seconds must be >= 0")
	}
	if !strings.Contains(c.Input.URLTemplate, "{zip}") {
		return fmt.Errorf("input.url_template must contain {zip}")
	}
	switch c.Output.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("output.format must be csv or json")
	}
	switch c.Results.Backend {
	case "memory":
	case "redis":
		if c.Results.RedisAddr == "" {
			return fmt.Errorf("results.redis_addr must be set when results.backend is redis")
		}
	default:
		return fmt.Errorf("results.backend must be memory or redis")
	}
	switch c.Archive.Backend {
	case "none":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set when archive.backend is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, local or gcs")
	}
	return nil
}

// ConnectTimeout returns the dial and TLS handshake budget.
func (c FetchConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.TimeoutConnectSeconds) * time.Second
}

// ReadTimeout returns the response header budget.
func (c FetchConfig) ReadTimeout() time.Duration {
	return time.Duration(c.TimeoutReadSeconds) * time.Second
}

// Cooldown returns the pause a worker takes after a timed-out fetch.
func (c FetchConfig) Cooldown() time.Duration {
	return time.Duration(c.TimeoutCooldownSeconds) * time.Second
}
