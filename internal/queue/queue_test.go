package queue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store"
	"github.com/aridsondez/tagqueue/internal/queue/store/memory"
)

func newMemoryQueue(t *testing.T, opts queue.Options) (*queue.Queue, *memory.Store) {
	t.Helper()
	s := memory.New()
	t.Cleanup(s.Close)
	if opts.PollInterval == 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	q, err := queue.New(s, opts)
	require.NoError(t, err)
	return q, s
}

func TestValidateTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag     string
		wantErr bool
	}{
		{"orders", false},
		{"a", false},
		{strings.Repeat("x", queue.MaxTagLength), false},
		{"with space-and.dots", false},
		{"", true},
		{strings.Repeat("x", queue.MaxTagLength+1), true},
		{"it's", true},
	}
	for _, tt := range tests {
		err := queue.ValidateTag(tt.tag)
		if tt.wantErr {
			assert.ErrorIs(t, err, queue.ErrInvalidTag, tt.tag)
		} else {
			assert.NoError(t, err, tt.tag)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := queue.New(nil, queue.Options{})
	assert.ErrorIs(t, err, queue.ErrNilStore)

	q, err := queue.New(memory.New(), queue.Options{})
	require.NoError(t, err)
	assert.IsType(t, queue.JSON{}, q.Codec())
}

func TestEnqueue_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("invalid tag never reaches the store", func(t *testing.T) {
		t.Parallel()
		s := new(MockStore)
		defer s.AssertExpectations(t)
		q, err := queue.New(s, queue.Options{})
		require.NoError(t, err)

		_, err = q.Enqueue(ctx, "bad'tag", "x")
		assert.ErrorIs(t, err, queue.ErrInvalidTag)
		_, err = q.List(ctx, "")
		assert.ErrorIs(t, err, queue.ErrInvalidTag)
	})

	t.Run("content too long", func(t *testing.T) {
		t.Parallel()
		q, s := newMemoryQueue(t, queue.Options{ContentLength: 10})

		_, err := q.Enqueue(ctx, "orders", strings.Repeat("x", 20))
		assert.ErrorIs(t, err, queue.ErrContentTooLong)
		assert.Zero(t, s.Len())

		_, err = q.Enqueue(ctx, "orders", "short")
		assert.NoError(t, err)
	})

	t.Run("content length counts characters", func(t *testing.T) {
		t.Parallel()
		q, s := newMemoryQueue(t, queue.Options{Codec: queue.Raw{}, ContentLength: 4})

		id, err := q.Enqueue(ctx, "orders", "äöüß")
		require.NoError(t, err)
		msg, err := q.DequeueImmediate(ctx, "orders")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, "äöüß", msg.Content)

		_, err = q.Enqueue(ctx, "orders", "äöüßx")
		assert.ErrorIs(t, err, queue.ErrContentTooLong)
		assert.Zero(t, s.Len())
	})

	t.Run("unencodable payload", func(t *testing.T) {
		t.Parallel()
		q, s := newMemoryQueue(t, queue.Options{})
		_, err := q.Enqueue(ctx, "orders", make(chan int))
		assert.Error(t, err)
		assert.Zero(t, s.Len())
	})
}

func TestEnqueue_InsertErrorRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	insertErr := errors.New("insert failed")

	tx := new(MockTx)
	tx.On("Insert", mock.Anything, "orders", `"x"`, (*time.Time)(nil)).Return(int64(0), insertErr)
	tx.On("Rollback", mock.Anything).Return(nil)
	s := new(MockStore)
	s.On("Begin", mock.Anything).Return(tx, nil)
	defer s.AssertExpectations(t)
	defer tx.AssertExpectations(t)

	q, err := queue.New(s, queue.Options{})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "orders", "x")
	assert.ErrorIs(t, err, insertErr)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestFail_RecordErrorKeepsCause(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	commitErr := errors.New("connection lost")
	cause := errors.New("handler failed")

	tx := new(MockTx)
	tx.On("ClaimNext", mock.Anything, "orders").Return(&store.Message{ID: 1, Tag: "orders", Content: "{}"}, nil)
	tx.On("IncrementExceptTimes", mock.Anything, int64(1)).Return(nil)
	tx.On("Commit", mock.Anything).Return(commitErr)
	s := new(MockStore)
	s.On("Begin", mock.Anything).Return(tx, nil)
	defer tx.AssertExpectations(t)

	q, err := queue.New(s, queue.Options{})
	require.NoError(t, err)

	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		return cause
	})
	assert.True(t, ok)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, commitErr)
}

func TestClaim_StoreErrorReleasesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	claimErr := errors.New("bad query")

	tx := new(MockTx)
	tx.On("ClaimNext", mock.Anything, "orders").Return(nil, claimErr)
	tx.On("Rollback", mock.Anything).Return(nil)
	s := new(MockStore)
	s.On("Begin", mock.Anything).Return(tx, nil)
	defer tx.AssertExpectations(t)

	q, err := queue.New(s, queue.Options{})
	require.NoError(t, err)

	d, err := q.Claim(ctx, "orders")
	assert.Nil(t, d)
	assert.ErrorIs(t, err, claimErr)
}

func TestDequeue_HandlerPanicIsAFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newMemoryQueue(t, queue.Options{})

	_, err := q.Enqueue(ctx, "orders", "x")
	require.NoError(t, err)

	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		panic("kaboom")
	})
	assert.True(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	msgs, err := q.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ExceptTimes)
}

func TestDequeue_HandlerMayEndCustody(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, s := newMemoryQueue(t, queue.Options{})

	_, err := q.Enqueue(ctx, "orders", "x")
	require.NoError(t, err)

	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		return d.Complete(ctx)
	})
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestPoison_AbandonStillDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, s := newMemoryQueue(t, queue.Options{IgnoreAfter: 1})

	_, err := q.Enqueue(ctx, "orders", "x")
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		return errors.New("nope")
	})
	require.Error(t, err)

	d, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Poison())
	assert.Error(t, d.Decode(new(string)))
	require.NoError(t, d.Abandon(ctx))
	assert.Zero(t, s.Len())
}

func TestDequeueImmediate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, s := newMemoryQueue(t, queue.Options{IgnoreAfter: 1})

	payload := map[string]any{"user": "alice", "n": float64(3)}
	id, err := q.Enqueue(ctx, "orders", payload)
	require.NoError(t, err)

	m, err := q.DequeueImmediate(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "orders", m.Tag)

	var got map[string]any
	require.NoError(t, q.Decode(m, &got))
	assert.Equal(t, payload, got)
	assert.Zero(t, s.Len())

	m, err = q.DequeueImmediate(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestExternalNotifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := memory.New()
	q, _ := newMemoryQueue(t, queue.Options{Notifier: bus})

	sub, err := bus.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer sub.Close(ctx)

	_, err = q.Enqueue(ctx, "orders", "x")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, sub.Wait(waitCtx))
}

func TestExternalNotifier_WaitsForInTxCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := memory.New()
	t.Cleanup(bus.Close)
	q, _ := newMemoryQueue(t, queue.Options{Notifier: bus})

	sub, err := bus.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer sub.Close(ctx)

	quiet := func() error {
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		return sub.Wait(waitCtx)
	}

	err = q.InTx(ctx, func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, "orders", "x")
		require.NoError(t, err)
		assert.ErrorIs(t, quiet(), context.DeadlineExceeded, "published before commit")
		return nil
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, sub.Wait(waitCtx))

	// a rolled back insert wakes nobody
	rollback := errors.New("rollback")
	err = q.InTx(ctx, func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, "orders", "y")
		require.NoError(t, err)
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	assert.ErrorIs(t, quiet(), context.DeadlineExceeded)
}
