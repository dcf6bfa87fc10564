// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Storage drivers accepted by storage.driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverJSONL    = "jsonl"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs which catalog is crawled and how wide the fan-out is.
type CrawlerConfig struct {
	URLTemplate string `mapstructure:"url_template"`
	UserAgent   string `mapstructure:"user_agent"`
	// Concurrency caps concurrent page tasks; 0 means no cap.
	Concurrency   int  `mapstructure:"concurrency"`
	RespectRobots bool `mapstructure:"respect_robots"`
	// RequestsPerSecond paces fetches to the catalog host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StorageConfig selects where records go.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	JSONLPath string `mapstructure:"jsonl_path"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// MetricsConfig controls the health/metrics listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.url_template", "https://books.toscrape.com/catalogue/page-{page}.html")
	v.SetDefault("crawler.user_agent", "catalog-crawler/0.1")
	v.SetDefault("crawler.concurrency", 0)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 0)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.jsonl_path", "data/records.jsonl")
	v.SetDefault("storage.base_dir", "data/snapshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "catalog")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "books")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.log_events", true)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Crawler.URLTemplate, "{page}") {
		return fmt.Errorf("crawler.url_template must contain {page}")
	}
	if c.Crawler.Concurrency < 0 {
		return fmt.Errorf("crawler.concurrency must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return fmt.Errorf("http backoff values must be >= 0")
	}
	if err := c.Storage.validate(c.DB); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (s StorageConfig) validate(db DBConfig) error {
	switch s.Driver {
	case DriverMemory:
	case DriverPostgres:
		if db.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	case DriverJSONL:
		if s.JSONLPath == "" {
			return fmt.Errorf("storage.jsonl_path is required for the jsonl driver")
		}
	case DriverLocal:
		if s.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local driver")
		}
	case DriverGCS:
		if s.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Driver)
	}
	return nil
}

// Timeout is the per-request HTTP timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// BackoffInitial is the delay before the first retry.
func (h HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(h.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (h HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(h.BackoffMaxMs) * time.Millisecond
}

// MaxBatchWait is the hub flush interval.
func (p ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(p.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout bounds each sink flush.
func (p ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(p.SinkTimeoutMs) * time.Millisecond
}
