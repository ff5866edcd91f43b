package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// Ensure *PostgresStore implements store.Store at compile time.
var _ store.Store = (*PostgresStore)(nil)

const (
	DefaultTable         = "mq"
	DefaultContentLength = 1023
)

var (
	ErrInvalidTable         = errors.New("invalid table name")
	ErrInvalidContentLength = errors.New("invalid content length")
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,30}$`)

// PostgresStore keeps messages in one table and coordinates consumers with
// transaction-scoped advisory locks and LISTEN/NOTIFY.
type PostgresStore struct {
	pool          *pgxpool.Pool
	table         string
	contentLength int
	log           *slog.Logger
	sql           queries
	listener      *listener
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

func WithTable(name string) Option {
	return func(p *PostgresStore) {
		p.table = name
	}
}

// WithContentLength sets the width of the content column used by CreateTable.
func WithContentLength(n int) Option {
	return func(p *PostgresStore) {
		p.contentLength = n
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *PostgresStore) {
		p.log = log
	}
}

func New(pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	p := &PostgresStore{
		pool:          pool,
		table:         DefaultTable,
		contentLength: DefaultContentLength,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if !tableName.MatchString(p.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, p.table)
	}
	if p.contentLength <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidContentLength, p.contentLength)
	}
	p.sql = newQueries(p.table)
	p.log = p.log.With("component", "postgres", "table", p.table)
	p.listener = newListener(p)
	return p, nil
}

// Table returns the queue table name.
func (p *PostgresStore) Table() string {
	return p.table
}

// Pool returns the underlying pool.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

// Begin opens a READ COMMITTED transaction so every statement sees rows
// committed by other consumers up to that point.
func (p *PostgresStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{p: p, tx: tx}, nil
}

// WrapTx runs queue statements inside a transaction owned by the caller.
func (p *PostgresStore) WrapTx(tx pgx.Tx) store.Tx {
	return &pgTx{p: p, tx: tx}
}

// DueTags implements store.Store.
func (p *PostgresStore) DueTags(ctx context.Context, since, until time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, p.sql.dueTags, since, until)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Publish wakes the listeners of tag outside of any transaction.
func (p *PostgresStore) Publish(ctx context.Context, tag string) error {
	_, err := p.pool.Exec(ctx, sqlNotify, p.channel(tag))
	return err
}

// Close ends every subscription and closes the pool.
func (p *PostgresStore) Close() {
	p.listener.close()
	p.pool.Close()
}

// channel is the notification channel for tag. Tags are at most 31 bytes
// and table names at most 31, so it always fits in an identifier.
func (p *PostgresStore) channel(tag string) string {
	return p.table + "_" + tag
}
