// Package app wires configuration, the database and the queue together for
// the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/aridsondez/tagqueue/internal/config"
	"github.com/aridsondez/tagqueue/internal/logger"
	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/notify/redisnotify"
	"github.com/aridsondez/tagqueue/internal/queue/scheduler"
	"github.com/aridsondez/tagqueue/internal/queue/store/postgres"
)

// App holds the long-lived handles of a process.
type App struct {
	Config *config.Config
	Log    *slog.Logger
	Store  *postgres.PostgresStore
	Queue  *queue.Queue

	redis *redis.Client
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.New(
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithOutput(os.Stderr),
		logger.WithAttr(slog.String("service", "tagqueue")),
	), nil
}

// Open connects to the database (and Redis when configured) and builds the queue.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	pool, err := postgres.Connect(ctx, postgres.ConnectConfig{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		ConnectTimeout: cfg.DBConnectionTimeout,
		RetryAttempts:  cfg.DBRetryAttempts,
		RetryInterval:  cfg.DBRetryInterval,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	st, err := postgres.New(pool,
		postgres.WithTable(cfg.Table),
		postgres.WithContentLength(cfg.ContentLength),
		postgres.WithLogger(log),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Store: st}

	codec, err := queue.CodecByName(cfg.Codec)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := queue.Options{
		Codec:         codec,
		ContentLength: cfg.ContentLength,
		IgnoreAfter:   cfg.IgnoreAfter,
		PollInterval:  cfg.PollInterval,
		Logger:        log,
	}

	if cfg.RedisURL != "" {
		client, err := redisnotify.Connect(ctx, cfg.RedisURL, cfg.DBRetryAttempts, cfg.DBRetryInterval)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		opts.Notifier = redisnotify.New(client, cfg.Table+":")
		log.InfoContext(ctx, "using redis notifier")
	}

	a.Queue, err = queue.New(st, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Publisher is where wake-ups for a tag go: Redis when configured, the database otherwise.
func (a *App) Publisher() scheduler.Publisher {
	if a.redis != nil {
		return redisnotify.New(a.redis, a.Config.Table+":")
	}
	return a.Store
}

// Healthcheck pings every backend.
func (a *App) Healthcheck(ctx context.Context) error {
	err := postgres.Healthcheck(a.Store.Pool())(ctx)
	if a.redis != nil {
		err = errors.Join(err, redisnotify.Healthcheck(a.redis)(ctx))
	}
	return err
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.Store.Close()
}
