// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Poller  PollerConfig  `mapstructure:"poller" yaml:"poller"`
	Pivot   PivotConfig   `mapstructure:"pivot" yaml:"pivot"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BackendConfig describes how to reach the enrichment backend.
type BackendConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst           int           `mapstructure:"burst" yaml:"burst"`
	Token           string        `mapstructure:"token" yaml:"-"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxResponseSize int64         `mapstructure:"max_response_size" yaml:"max_response_size"`
}

// PollerConfig sets the cadence of the two poll loops.
type PollerConfig struct {
	JobInterval   time.Duration `mapstructure:"job_interval" yaml:"job_interval"`
	GraphInterval time.Duration `mapstructure:"graph_interval" yaml:"graph_interval"`
	// MaxBackoff caps the doubling wait after consecutive failures. Zero keeps a fixed interval.
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// PivotConfig controls pivot requests and their reconciliation.
type PivotConfig struct {
	ReconcileDelay time.Duration `mapstructure:"reconcile_delay" yaml:"reconcile_delay"`
	DefaultDepth   int           `mapstructure:"default_depth" yaml:"default_depth"`
	MaxDepth       int           `mapstructure:"max_depth" yaml:"max_depth"`
}

// MetricsConfig enables the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// ArchiveConfig enables archiving every applied snapshot to Postgres.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "graphx")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Backend --
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.rate_limit", 10.0)
	v.SetDefault("backend.burst", 5)
	v.SetDefault("backend.ignore_tls_errors", false)
	v.SetDefault("backend.user_agent", "graphx")
	v.SetDefault("backend.max_response_size", 64<<20)

	// -- Poller --
	v.SetDefault("poller.job_interval", "2s")
	v.SetDefault("poller.graph_interval", "3s")
	v.SetDefault("poller.max_backoff", "0s")

	// -- Pivot --
	v.SetDefault("pivot.reconcile_delay", "500ms")
	v.SetDefault("pivot.default_depth", 1)
	v.SetDefault("pivot.max_depth", 3)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	// -- Archive --
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.database_url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("backend.token", "GRAPHX_BACKEND_TOKEN")
	_ = v.BindEnv("archive.database_url", "GRAPHX_ARCHIVE_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend configuration invalid: %w", err)
	}
	if err := c.Poller.Validate(); err != nil {
		return fmt.Errorf("poller configuration invalid: %w", err)
	}
	if err := c.Pivot.Validate(); err != nil {
		return fmt.Errorf("pivot configuration invalid: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	if c.Archive.Enabled && c.Archive.DatabaseURL == "" {
		return fmt.Errorf("archive.database_url is required when the archive is enabled")
	}
	return nil
}

// Validate checks the backend configuration.
func (b *BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url is a required configuration field")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got '%s'", b.BaseURL)
	}
	if b.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if b.RateLimit > 0 && b.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer when rate_limit is set")
	}
	if b.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Validate checks the poller configuration.
func (p *PollerConfig) Validate() error {
	if p.JobInterval <= 0 {
		return fmt.Errorf("job_interval must be a positive duration")
	}
	if p.GraphInterval <= 0 {
		return fmt.Errorf("graph_interval must be a positive duration")
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("max_backoff must not be negative")
	}
	return nil
}

// Validate checks the pivot configuration.
func (p *PivotConfig) Validate() error {
	if p.ReconcileDelay < 0 {
		return fmt.Errorf("reconcile_delay must not be negative")
	}
	if p.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1")
	}
	if p.DefaultDepth < 1 || p.DefaultDepth > p.MaxDepth {
		return fmt.Errorf("default_depth must be between 1 and max_depth (%d)", p.MaxDepth)
	}
	return nil
}
