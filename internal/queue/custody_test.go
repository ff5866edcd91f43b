package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store"
	"github.com/aridsondez/tagqueue/internal/queue/store/memory"
)

// strictStore rejects statements issued on a done context, like pgx does.
type strictStore struct {
	store.Store
}

func (s strictStore) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return strictTx{tx}, nil
}

type strictTx struct {
	store.Tx
}

func (t strictTx) ClaimNext(ctx context.Context, tag string) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Tx.ClaimNext(ctx, tag)
}

func (t strictTx) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return t.Tx.Delete(ctx, id)
}

func (t strictTx) IncrementExceptTimes(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Tx.IncrementExceptTimes(ctx, id)
}

func (t strictTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		_ = t.Tx.Rollback(context.Background())
		return err
	}
	return t.Tx.Commit(ctx)
}

func newStrictQueue(t *testing.T, opts queue.Options) (*queue.Queue, *memory.Store) {
	t.Helper()
	s := memory.New()
	t.Cleanup(s.Close)
	q, err := queue.New(strictStore{s}, opts)
	require.NoError(t, err)
	return q, s
}

// waitForDeadline returns the handler's context error once it expires.
func waitForDeadline(ctx context.Context, _ *queue.Delivery) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFail_CountedAfterDeadline(t *testing.T) {
	t.Parallel()
	q, s := newStrictQueue(t, queue.Options{IgnoreAfter: 2})

	_, err := q.Enqueue(context.Background(), "orders", "slow")
	require.NoError(t, err)

	for want := 1; want <= 2; want++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		ok, err := q.Dequeue(ctx, "orders", waitForDeadline)
		cancel()
		require.True(t, ok)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotContains(t, err.Error(), "record failure")

		msgs, err := q.List(context.Background(), "orders")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, want, msgs[0].ExceptTimes)
	}

	// the threshold is reached, so the next custody disposes the row
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := q.Dequeue(ctx, "orders", waitForDeadline)
	require.True(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, s.Len())
}

func TestComplete_AfterDeadline(t *testing.T) {
	t.Parallel()
	q, s := newStrictQueue(t, queue.Options{})

	_, err := q.Enqueue(context.Background(), "orders", "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		<-ctx.Done()
		return nil
	})
	require.True(t, ok)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestFail_CancelledContext(t *testing.T) {
	t.Parallel()
	q, _ := newStrictQueue(t, queue.Options{})

	_, err := q.Enqueue(context.Background(), "orders", "x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, d)
	cancel()

	cause := errors.New("shutting down")
	assert.Equal(t, cause, d.Fail(ctx, cause))

	msgs, err := q.List(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ExceptTimes)
}
