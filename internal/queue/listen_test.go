package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
)

func TestListen_InvalidTag(t *testing.T) {
	t.Parallel()
	q, _ := newMemoryQueue(t, queue.Options{})

	s := q.Listen(context.Background(), "")
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, queue.ErrInvalidTag)
	assert.ErrorIs(t, s.Close(), queue.ErrInvalidTag)
}

func TestListen_DrainsBeforeWaiting(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, s := newMemoryQueue(t, queue.Options{PollInterval: time.Minute})

	for i := range 3 {
		_, err := q.Enqueue(ctx, "orders", i)
		require.NoError(t, err)
	}

	stream := q.Listen(ctx, "orders")
	defer stream.Close()
	for want := range 3 {
		d, err := stream.Next(ctx)
		require.NoError(t, err)
		var got int
		require.NoError(t, d.Decode(&got))
		assert.Equal(t, want, got)
		require.NoError(t, d.Complete(ctx))
	}
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestListen_PoisonIsNotYielded(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, s := newMemoryQueue(t, queue.Options{IgnoreAfter: 1})

	_, err := q.Enqueue(ctx, "orders", "bad")
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "orders", func(ctx context.Context, d *queue.Delivery) error {
		return errors.New("nope")
	})
	require.Error(t, err)
	_, err = q.Enqueue(ctx, "orders", "good")
	require.NoError(t, err)

	stream := q.Listen(ctx, "orders", queue.WithIdleTimeout(200*time.Millisecond))
	defer stream.Close()

	d, err := stream.Next(ctx)
	require.NoError(t, err)
	require.False(t, d.Poison())
	var got string
	require.NoError(t, d.Decode(&got))
	assert.Equal(t, "good", got)
	require.NoError(t, d.Complete(ctx))

	d, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.True(t, d.Idle())
	assert.Zero(t, s.Len())
}

func TestListen_CloseAbandonsOpenDelivery(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, _ := newMemoryQueue(t, queue.Options{})

	_, err := q.Enqueue(ctx, "orders", "x")
	require.NoError(t, err)

	stream := q.Listen(ctx, "orders")
	d, err := stream.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.ErrorIs(t, d.Complete(ctx), queue.ErrCustodyEnded)

	msgs, err := q.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Zero(t, msgs[0].ExceptTimes)
}

func TestListen_ContextCancelStops(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	q, _ := newMemoryQueue(t, queue.Options{})

	stream := q.Listen(ctx, "orders")
	cancel()

	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, queue.ErrStreamClosed)
	assert.NoError(t, stream.Err())
}

func TestConsume(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, s := newMemoryQueue(t, queue.Options{})

	for i := range 4 {
		_, err := q.Enqueue(ctx, "orders", i)
		require.NoError(t, err)
	}

	var (
		mu     sync.Mutex
		seen   []int
		failed bool
	)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(runCtx, "orders", func(ctx context.Context, d *queue.Delivery) error {
			if d.Idle() {
				return nil
			}
			var n int
			if err := d.Decode(&n); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if n == 2 && !failed {
				failed = true
				return errors.New("retry me")
			}
			seen = append(seen, n)
			return nil
		}, queue.WithIdleTimeout(100*time.Millisecond))
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, 3*time.Second, 20*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, seen)
	assert.True(t, failed)
}
