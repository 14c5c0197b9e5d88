package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBUser      string `env:"DB_USER" envDefault:"parley"`
	DBPassword  string `env:"DB_PASSWORD" envDefault:"parley_dev_password"`
	DBName      string `env:"DB_NAME" envDefault:"parley"`

	// Empty disables both the Redis invalidation sink and the Redis realtime transport.
	RedisURL              string `env:"REDIS_URL"`
	InvalidationChannel   string `env:"INVALIDATION_CHANNEL" envDefault:"parley:invalidate"`
	RealtimeChannelPrefix string `env:"REALTIME_CHANNEL_PREFIX" envDefault:"parley:rt:"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	DispatchTimeout   time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"2s"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"1024"`

	EventQueueSize  int `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`
	EventMaxRetries int `env:"EVENT_MAX_RETRIES" envDefault:"3"`

	PreviewLimit     int `env:"PREVIEW_LIMIT" envDefault:"20"`
	DetailsCacheSize int `env:"DETAILS_CACHE_SIZE" envDefault:"1024"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}
	if c.DispatchQueueSize < 1 || c.EventQueueSize < 1 {
		return errors.New("queue sizes must be positive")
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}
	if c.EventMaxRetries < 0 {
		return errors.New("EVENT_MAX_RETRIES must not be negative")
	}
	return nil
}

// DatabaseDSN prefers DATABASE_URL and falls back to the DB_* pieces.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
