package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store/postgres"
)

// HandlerFunc processes a message and returns an error if processing failed.
// Returning nil means success (message will be deleted).
// Returning an error means failure (the failure is counted and the message
// becomes claimable again).
type HandlerFunc func(ctx context.Context, msg *Message) error

// Message represents a message received from the queue
type Message struct {
	ID          int64           `json:"id"`
	Tag         string          `json:"tag"`
	Body        json.RawMessage `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
	ExceptTimes int             `json:"except_times"`
}

// Config for creating a new worker
type Config struct {
	DatabaseURL  string        // used when the worker opens its own connection
	Table        string        // queue table (default: mq)
	IgnoreAfter  int           // failures before a message is dropped silently (default: never)
	PollInterval time.Duration // safety poll while waiting (default: 1s)
	Concurrency  int           // consumers per tag (default: 1)
	RestartDelay time.Duration // pause before restarting a failed consumer (default: 1s)
	Logger       *slog.Logger
}

// Worker runs one or more consumers per registered tag directly against the
// database.
type Worker struct {
	cfg      Config
	q        *queue.Queue
	handlers map[string]HandlerFunc
	id       uuid.UUID
	log      *slog.Logger
}

// New creates a Worker that connects to cfg.DatabaseURL when Run starts.
func New(cfg Config) *Worker {
	return NewWithQueue(nil, cfg)
}

// NewWithQueue creates a Worker on an existing queue.
func NewWithQueue(q *queue.Queue, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	id := uuid.New()
	return &Worker{
		cfg:      cfg,
		q:        q,
		handlers: make(map[string]HandlerFunc),
		id:       id,
		log:      cfg.Logger.With("worker_id", id.String()),
	}
}

// Handle registers a handler function for a tag
func (w *Worker) Handle(tag string, handler HandlerFunc) {
	w.handlers[tag] = handler
	w.log.Info("registered handler", "tag", tag)
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	for tag := range w.handlers {
		if err := queue.ValidateTag(tag); err != nil {
			return err
		}
	}

	q := w.q
	if q == nil {
		var closeFn func()
		var err error
		q, closeFn, err = w.open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
	}

	w.log.InfoContext(ctx, "worker starting", "tags", len(w.handlers), "concurrency", w.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for tag, handler := range w.handlers {
		for i := range w.cfg.Concurrency {
			g.Go(func() error {
				w.consume(ctx, q, tag, i, handler)
				return nil
			})
		}
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) open(ctx context.Context) (*queue.Queue, func(), error) {
	if w.cfg.DatabaseURL == "" {
		return nil, nil, errors.New("worker: DatabaseURL is required")
	}
	pool, err := postgres.Connect(ctx, postgres.ConnectConfig{
		DSN:            w.cfg.DatabaseURL,
		MaxConns:       w.poolSize(),
		ConnectTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
	})
	if err != nil {
		return nil, nil, err
	}

	var opts []postgres.Option
	if w.cfg.Table != "" {
		opts = append(opts, postgres.WithTable(w.cfg.Table))
	}
	st, err := postgres.New(pool, append(opts, postgres.WithLogger(w.log))...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.CreateTable(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("create table: %w", err)
	}

	q, err := queue.New(st, queue.Options{
		IgnoreAfter:  w.cfg.IgnoreAfter,
		PollInterval: w.cfg.PollInterval,
		Logger:       w.log,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return q, st.Close, nil
}

// poolSize leaves one connection per consumer, each holding its claim for
// the whole handler run, plus one for the table setup.
func (w *Worker) poolSize() int32 {
	return int32(len(w.handlers)*w.cfg.Concurrency + 1)
}

// consume keeps a Consume loop alive on tag until ctx is done.
func (w *Worker) consume(ctx context.Context, q *queue.Queue, tag string, n int, handler HandlerFunc) {
	log := w.log.With("tag", tag, "consumer", n)
	log.DebugContext(ctx, "consumer started")

	fn := func(ctx context.Context, d *queue.Delivery) error {
		if d.Idle() {
			return nil
		}
		msg := toMessage(d.Message())
		if err := handler(ctx, msg); err != nil {
			log.WarnContext(ctx, "processing failed", "id", msg.ID, "except_times", msg.ExceptTimes, "error", err)
			return err
		}
		log.DebugContext(ctx, "processed", "id", msg.ID)
		return nil
	}

	for {
		err := q.Consume(ctx, tag, fn)
		if ctx.Err() != nil {
			log.DebugContext(ctx, "consumer stopped")
			return
		}
		log.ErrorContext(ctx, "consumer failed, restarting", "error", err, "delay", w.cfg.RestartDelay)
		select {
		case <-time.After(w.cfg.RestartDelay):
		case <-ctx.Done():
			return
		}
	}
}

func toMessage(m *queue.Message) *Message {
	body := json.RawMessage(m.Content)
	if !json.Valid(body) {
		body, _ = json.Marshal(m.Content)
	}
	return &Message{
		ID:          m.ID,
		Tag:         m.Tag,
		Body:        body,
		CreatedAt:   m.CreatedAt,
		ExceptTimes: m.ExceptTimes,
	}
}
