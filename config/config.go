package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Checkin       CheckinConfig       `yaml:"checkin"`
	Auth          AuthConfig          `yaml:"auth"`
	Push          PushConfig          `yaml:"push"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Redis         RedisConfig         `yaml:"redis"`
	DirectorySync DirectorySyncConfig `yaml:"directory_sync"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                  int           `yaml:"port" env:"SERVER_PORT"`
	RateLimitPerSec       float64       `yaml:"rate_limit_per_sec" env:"SERVER_RATE_LIMIT_PER_SEC"`
	RateLimitBurst        int           `yaml:"rate_limit_burst" env:"SERVER_RATE_LIMIT_BURST"`
	ScanRateLimitPerSec   float64       `yaml:"scan_rate_limit_per_sec" env:"SERVER_SCAN_RATE_LIMIT_PER_SEC"`
	CacheTTLSeconds       int           `yaml:"cache_ttl_seconds" env:"SERVER_CACHE_TTL_SECONDS"`
	RequestTimeoutSeconds int           `yaml:"request_timeout_seconds" env:"SERVER_REQUEST_TIMEOUT_SECONDS"`
	CacheTTL              time.Duration `yaml:"-"`
	RequestTimeout        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN                    string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" env:"DATABASE_CONN_MAX_LIFETIME_MINUTES"`
	LogQueries             bool   `yaml:"log_queries" env:"DATABASE_LOG_QUERIES"`
}

// CheckinConfig tunes the scan toggle.
type CheckinConfig struct {
	Timezone       string         `yaml:"timezone" env:"CHECKIN_TIMEZONE"`
	DebounceMillis int            `yaml:"debounce_millis" env:"CHECKIN_DEBOUNCE_MILLIS"`
	LockTTLSeconds int            `yaml:"lock_ttl_seconds" env:"CHECKIN_LOCK_TTL_SECONDS"`
	CodePrefix     string         `yaml:"code_prefix" env:"CHECKIN_CODE_PREFIX"`
	Location       *time.Location `yaml:"-"`
	DebounceWindow time.Duration  `yaml:"-"`
	LockTTL        time.Duration  `yaml:"-"`
}

// AuthConfig holds the bearer-token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"AUTH_ISSUER"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"PUSH_VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" env:"PUSH_VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject" env:"PUSH_SUBJECT"`
	TTL        int    `yaml:"ttl" env:"PUSH_TTL"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size" env:"WORKER_POOL_SIZE"`
	QueueSize int `yaml:"queue_size" env:"WORKER_POOL_QUEUE_SIZE"`
}

// RedisConfig enables the shared per-member lock.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
}

// DirectorySyncConfig describes the upstream membership feed.
type DirectorySyncConfig struct {
	Enabled         bool              `yaml:"enabled" env:"DIRECTORY_SYNC_ENABLED"`
	IntervalSeconds int               `yaml:"interval_seconds" env:"DIRECTORY_SYNC_INTERVAL_SECONDS"`
	Interval        time.Duration     `yaml:"-"`
	URL             string            `yaml:"url" env:"DIRECTORY_SYNC_URL"`
	HTTPProxy       string            `yaml:"http_proxy" env:"DIRECTORY_SYNC_HTTP_PROXY"`
	Headers         map[string]string `yaml:"headers"`
	PageSize        int               `yaml:"page_size" env:"DIRECTORY_SYNC_PAGE_SIZE"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads the configuration from the given path, applies environment
// overrides and fills in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.ScanRateLimitPerSec <= 0 {
		cfg.Server.ScanRateLimitPerSec = 2
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = 5
	}
	cfg.Server.RequestTimeout = time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = "postgres"
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if cfg.Checkin.Timezone == "" {
		cfg.Checkin.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Checkin.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Checkin.Timezone, err)
	}
	cfg.Checkin.Location = loc
	// A negative value switches the debounce off; zero means "not set".
	if cfg.Checkin.DebounceMillis == 0 {
		cfg.Checkin.DebounceMillis = 2000
	}
	if cfg.Checkin.DebounceMillis > 0 {
		cfg.Checkin.DebounceWindow = time.Duration(cfg.Checkin.DebounceMillis) * time.Millisecond
	}
	if cfg.Checkin.LockTTLSeconds <= 0 {
		cfg.Checkin.LockTTLSeconds = 10
	}
	cfg.Checkin.LockTTL = time.Duration(cfg.Checkin.LockTTLSeconds) * time.Second
	if cfg.Checkin.CodePrefix == "" {
		cfg.Checkin.CodePrefix = "GYM"
	}

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "gym"
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	if cfg.DirectorySync.IntervalSeconds <= 0 {
		cfg.DirectorySync.IntervalSeconds = 300
	}
	cfg.DirectorySync.Interval = time.Duration(cfg.DirectorySync.IntervalSeconds) * time.Second
	if cfg.DirectorySync.PageSize <= 0 {
		cfg.DirectorySync.PageSize = 100
	}
	if cfg.DirectorySync.Enabled && cfg.DirectorySync.URL == "" {
		return errors.New("directory_sync.url is required when directory sync is enabled")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	return nil
}
