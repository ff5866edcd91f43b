// Package storetest holds behaviour tests every store.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// Opener returns an empty store for one test.
type Opener func(t *testing.T) store.Store

type job struct {
	N    int    `json:"n"`
	Name string `json:"name"`
}

// Run exercises the queue protocol against stores built by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"IDsIncrease", testIDsIncrease},
		{"CreationOrder", testCreationOrder},
		{"FailureIsCounted", testFailureIsCounted},
		{"PoisonIsDisposed", testPoisonIsDisposed},
		{"ScheduledIsHidden", testScheduledIsHidden},
		{"HeldIsSkipped", testHeldIsSkipped},
		{"AbandonKeepsCount", testAbandonKeepsCount},
		{"CancelHeld", testCancelHeld},
		{"AtMostOneClaim", testAtMostOneClaim},
		{"CallerTransaction", testCallerTransaction},
		{"ListenWakesOnEnqueue", testListenWakesOnEnqueue},
		{"ListenIdle", testListenIdle},
		{"DueTags", testDueTags},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			tt.fn(t, s)
		})
	}
}

func newQueue(t *testing.T, s store.Store, opts queue.Options) *queue.Queue {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	q, err := queue.New(s, opts)
	require.NoError(t, err)
	return q
}

func enqueueJobs(t *testing.T, q *queue.Queue, tag string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := range n {
		id, err := q.Enqueue(context.Background(), tag, job{N: i, Name: "job"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func testIDsIncrease(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})

	ids := enqueueJobs(t, q, "orders", 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	n, err := q.Count(ctx, "orders")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = q.Count(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCreationOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 3)

	for i, want := range ids {
		var got job
		ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
			assert.Equal(t, want, d.ID())
			return d.Decode(&got)
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, job{N: i, Name: "job"}, got)
	}

	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		t.Fatal("handler called on empty queue")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFailureIsCounted(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 1)
	cause := errors.New("boom")

	for range 3 {
		ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
			return cause
		})
		assert.True(t, ok)
		assert.ErrorIs(t, err, cause)
	}

	msgs, err := q.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ids[0], msgs[0].ID)
	assert.Equal(t, 3, msgs[0].ExceptTimes)
}

func testPoisonIsDisposed(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{IgnoreAfter: 2})
	enqueueJobs(t, q, "orders", 1)
	cause := errors.New("boom")

	for range 2 {
		_, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
			require.False(t, d.Poison())
			return cause
		})
		assert.ErrorIs(t, err, cause)
	}

	ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		assert.True(t, d.Poison())
		assert.Nil(t, d.Message())
		return cause
	})
	assert.True(t, ok)
	assert.ErrorIs(t, err, cause)

	n, err := q.Count(ctx, "orders", queue.IncludeScheduled())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testScheduledIsHidden(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})

	_, err := q.Enqueue(ctx, "later", job{N: 1}, queue.WithDelay(1500*time.Millisecond))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "later", job{N: 2}, queue.WithSchedule(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	n, err := q.Count(ctx, "later")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = q.Count(ctx, "later", queue.IncludeScheduled())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var got job
	ok, err := q.Dequeue(ctx, "later", func(ctx context.Context, d *queue.Delivery) error {
		return d.Decode(&got)
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.N)

	m, err := q.DequeueImmediate(ctx, "later")
	require.NoError(t, err)
	assert.Nil(t, m)

	require.Eventually(t, func() bool {
		m, err = q.DequeueImmediate(ctx, "later")
		return err == nil && m != nil
	}, 5*time.Second, 100*time.Millisecond)
	require.NoError(t, q.Decode(m, &got))
	assert.Equal(t, 1, got.N)
}

func testHeldIsSkipped(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 2)

	first, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, ids[0], first.ID())

	second, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, ids[1], second.ID())

	none, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, none)

	n, err := q.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, first.Complete(ctx))
	require.NoError(t, second.Abandon(ctx))
	assert.ErrorIs(t, first.Complete(ctx), queue.ErrCustodyEnded)

	msgs, err := q.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ids[1], msgs[0].ID)
}

func testAbandonKeepsCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 1)

	d, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Abandon(ctx))

	d, err = q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, ids[0], d.ID())
	assert.Zero(t, d.Message().ExceptTimes)
	require.NoError(t, d.Complete(ctx))
}

func testCancelHeld(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 2)

	d, err := q.Claim(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, d)

	ok, err := q.Cancel(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok, "held message must not be cancelled")

	ok, err = q.Cancel(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Cancel(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Abandon(ctx))
	ok, err = q.Cancel(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func testAtMostOneClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	ids := enqueueJobs(t, q, "orders", 30)

	var (
		mu   sync.Mutex
		seen []int64
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ok, err := q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
					mu.Lock()
					seen = append(seen, d.ID())
					mu.Unlock()
					return nil
				})
				if err != nil || !ok {
					return
				}
			}
		}()
	}
	wg.Wait()

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	assert.Equal(t, ids, seen)
}

func testCallerTransaction(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	rollback := errors.New("rollback")

	err := q.InTx(ctx, func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, "orders", job{N: 1})
		require.NoError(t, err)
		n, err := q.Count(ctx, "orders")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	n, err := q.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, n)

	err = q.InTx(ctx, func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, "orders", job{N: 2})
		return err
	})
	require.NoError(t, err)

	n, err = q.Count(ctx, "orders")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testListenWakesOnEnqueue(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// a long poll interval so only the notification can wake the stream quickly
	q := newQueue(t, s, queue.Options{PollInterval: time.Minute})

	stream := q.Listen(ctx, "events")
	defer stream.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), "events", job{N: 7})
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	d, err := stream.Next(waitCtx)
	require.NoError(t, err)
	require.False(t, d.Idle())

	var got job
	require.NoError(t, d.Decode(&got))
	assert.Equal(t, 7, got.N)
	require.NoError(t, d.Complete(ctx))

	require.NoError(t, stream.Close())
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, queue.ErrStreamClosed)
}

func testListenIdle(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q := newQueue(t, s, queue.Options{})

	stream := q.Listen(ctx, "quiet", queue.WithIdleTimeout(300*time.Millisecond))
	defer stream.Close()

	start := time.Now()
	d, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.True(t, d.Idle())
	assert.Nil(t, d.Message())
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)

	d, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.True(t, d.Idle())
}

func testDueTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := newQueue(t, s, queue.Options{})
	now := time.Now()

	_, err := q.Enqueue(ctx, "soon", job{}, queue.WithSchedule(now.Add(time.Second)))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "later", job{}, queue.WithSchedule(now.Add(time.Hour)))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "now", job{})
	require.NoError(t, err)

	tags, err := s.DueTags(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, tags)
}
