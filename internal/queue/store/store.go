package store

import (
	"context"
	"errors"
	"time"
)

// ErrTxDone is returned when a transaction is used after Commit or Rollback.
var ErrTxDone = errors.New("store: transaction already finished")

// Store is the DB-agnostic interface the rest of the app uses.
type Store interface {
	Notifier

	// Begin opens a transaction-scoped session. Claims taken inside it are
	// released on Commit, Rollback, or loss of the session.
	Begin(ctx context.Context) (Tx, error)

	// DueTags returns the distinct tags of rows whose schedule lies in (since, until].
	DueTags(ctx context.Context, since, until time.Time) ([]string, error)

	Close()
}

// Tx is one store session. Every method runs inside the same transaction.
type Tx interface {
	// Insert adds a row and returns its id. The tag channel is published on commit.
	Insert(ctx context.Context, tag, content string, schedule *time.Time) (int64, error)

	// ClaimNext try-claims the smallest eligible id for tag, skipping rows
	// claimed elsewhere. It returns nil when nothing can be claimed.
	ClaimNext(ctx context.Context, tag string) (*Message, error)

	// Delete removes the row; true if it existed.
	Delete(ctx context.Context, id int64) (bool, error)

	// TryDelete removes the row only if it can be claimed by this session.
	TryDelete(ctx context.Context, id int64) (bool, error)

	IncrementExceptTimes(ctx context.Context, id int64) error

	// List and Count only report rows nobody else holds.
	List(ctx context.Context, tag string, opts ListOptions) ([]Message, error)
	Count(ctx context.Context, tag string, opts ListOptions) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Notifier is the publish/subscribe side of a store.
type Notifier interface {
	Publish(ctx context.Context, tag string) error
	Subscribe(ctx context.Context, tag string) (Subscription, error)
}

// Subscription receives wake-ups for a single tag.
type Subscription interface {
	// Wait blocks until a publication arrives or ctx is done. A publication
	// that arrived before the call returns immediately.
	Wait(ctx context.Context) error
	Close(ctx context.Context) error
}
