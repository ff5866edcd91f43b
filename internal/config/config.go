package config

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment configuration
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	Table             string        `env:"QUEUE_TABLE" envDefault:"mq"`
	ContentLength     int           `env:"QUEUE_CONTENT_LENGTH" envDefault:"1023"`
	IgnoreAfter       int           `env:"QUEUE_IGNORE_AFTER" envDefault:"0"`
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	Codec             string        `env:"QUEUE_CODEC" envDefault:"json"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`

	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" envDefault:"5s"`
	DBMaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBRetryAttempts     int           `env:"DB_RETRY_ATTEMPTS" envDefault:"3"`
	DBRetryInterval     time.Duration `env:"DB_RETRY_INTERVAL" envDefault:"1s"`

	RedisURL string `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

var (
	ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

	tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,30}$`)

	dotenvOnce sync.Once
)

// Parse reads the environment, after loading .env if there is one.
// It does not require DATABASE_URL so callers can fill it in from flags.
func Parse() (*Config, error) {
	dotenvOnce.Do(func() {
		// the .env file is optional
		_ = godotenv.Load()
	})
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ParseFrom reads cfg from the given variables only.
func ParseFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func LoadConfig() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and normalizes DatabaseURL.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	dsn, err := ParseDSN(c.DatabaseURL)
	if err != nil {
		return err
	}
	c.DatabaseURL = dsn

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("invalid QUEUE_TABLE: %q", c.Table)
	}
	if c.ContentLength <= 0 {
		return fmt.Errorf("invalid QUEUE_CONTENT_LENGTH: %d", c.ContentLength)
	}
	if c.IgnoreAfter < 0 {
		return fmt.Errorf("invalid QUEUE_IGNORE_AFTER: %d", c.IgnoreAfter)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid QUEUE_POLL_INTERVAL: %s", c.PollInterval)
	}
	if c.Codec != "json" && c.Codec != "raw" {
		return fmt.Errorf("invalid QUEUE_CODEC: %q", c.Codec)
	}
	if c.SchedulerInterval < 0 {
		return fmt.Errorf("invalid SCHEDULER_INTERVAL: %s", c.SchedulerInterval)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("invalid DB_MAX_CONNS: %d", c.DBMaxConns)
	}
	return nil
}
