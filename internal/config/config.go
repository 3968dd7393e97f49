package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	LogFile        string `mapstructure:"log_file"`
	ProvidersFile  string `mapstructure:"providers_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	HTTPAddr        string        `mapstructure:"http_addr"`
	StreamProvider  string        `mapstructure:"stream_provider"`
	CORSAllowOrigin string        `mapstructure:"cors_allow_origin"`
	HeartbeatSecs   int64         `mapstructure:"stream_heartbeat_seconds"`
	Heartbeat       time.Duration `mapstructure:"-"`

	CrawlIntervalSeconds int64         `mapstructure:"crawl_interval"`
	CrawlInterval        time.Duration `mapstructure:"-"`
	EnrichItems          bool          `mapstructure:"enrich_items"`

	MaxPages           int           `mapstructure:"max_pages"`
	MaxPagesLimit      int           `mapstructure:"max_pages_limit"`
	EmptyPageThreshold int           `mapstructure:"empty_page_threshold"`
	FetchTimeoutSecs   int64         `mapstructure:"fetch_timeout_seconds"`
	FetchTimeout       time.Duration `mapstructure:"-"`
	FetchMaxAttempts   int           `mapstructure:"fetch_max_attempts"`
	FetchBackoffBaseMs int64         `mapstructure:"fetch_backoff_base_ms"`
	FetchBackoffBase   time.Duration `mapstructure:"-"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "homefeed-crawler")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("providers_file", "./configs/providers.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("stream_provider", "naver_homefeed")
	v.SetDefault("cors_allow_origin", "*")
	v.SetDefault("stream_heartbeat_seconds", 15)
	v.SetDefault("crawl_interval", 900) // seconds
	v.SetDefault("enrich_items", false)
	v.SetDefault("max_pages", 15)
	v.SetDefault("max_pages_limit", 50)
	v.SetDefault("empty_page_threshold", 3)
	v.SetDefault("fetch_timeout_seconds", 10)
	v.SetDefault("fetch_max_attempts", 3)
	v.SetDefault("fetch_backoff_base_ms", 1000)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/cache.db")
	v.SetDefault("storage_ttl_seconds", int64((5*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.CrawlIntervalSeconds <= 0 {
		return fmt.Errorf("invalid crawl_interval (must be positive seconds)")
	}
	cfg.CrawlInterval = time.Duration(cfg.CrawlIntervalSeconds) * time.Second

	if cfg.HeartbeatSecs <= 0 {
		return fmt.Errorf("invalid stream_heartbeat_seconds (must be positive seconds)")
	}
	cfg.Heartbeat = time.Duration(cfg.HeartbeatSecs) * time.Second

	if cfg.MaxPages <= 0 {
		return fmt.Errorf("invalid max_pages (must be positive)")
	}
	if cfg.MaxPagesLimit < cfg.MaxPages {
		return fmt.Errorf("invalid max_pages_limit (must be >= max_pages)")
	}
	if cfg.EmptyPageThreshold <= 0 {
		return fmt.Errorf("invalid empty_page_threshold (must be positive)")
	}

	if cfg.FetchTimeoutSecs <= 0 {
		return fmt.Errorf("invalid fetch_timeout_seconds (must be positive seconds)")
	}
	cfg.FetchTimeout = time.Duration(cfg.FetchTimeoutSecs) * time.Second
	if cfg.FetchMaxAttempts <= 0 {
		return fmt.Errorf("invalid fetch_max_attempts (must be positive)")
	}
	if cfg.FetchBackoffBaseMs < 0 {
		return fmt.Errorf("invalid fetch_backoff_base_ms (must not be negative)")
	}
	cfg.FetchBackoffBase = time.Duration(cfg.FetchBackoffBaseMs) * time.Millisecond

	if cfg.StorageTTLSeconds <= 0 {
		return fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return nil
}

// LogFields returns the settings worth logging at startup.
func (cfg *Config) LogFields() map[string]any {
	if cfg == nil {
		return nil
	}
	return map[string]any{
		"app_name":             cfg.AppName,
		"app_env":              cfg.Env,
		"log_level":            cfg.LogLevel,
		"providers_file":       cfg.ProvidersFile,
		"publishers_file":      cfg.PublishersFile,
		"http_addr":            cfg.HTTPAddr,
		"stream_provider":      cfg.StreamProvider,
		"crawl_interval":       cfg.CrawlInterval.String(),
		"max_pages":            cfg.MaxPages,
		"max_pages_limit":      cfg.MaxPagesLimit,
		"empty_page_threshold": cfg.EmptyPageThreshold,
		"fetch_timeout":        cfg.FetchTimeout.String(),
		"fetch_max_attempts":   cfg.FetchMaxAttempts,
		"storage_type":         cfg.StorageType,
	}
}
