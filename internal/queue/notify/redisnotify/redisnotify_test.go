package redisnotify_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/notify/redisnotify"
	"github.com/aridsondez/tagqueue/internal/queue/store/memory"
)

func connect(t *testing.T) *redisnotify.Notifier {
	t.Helper()
	url := os.Getenv("TAGQUEUE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TAGQUEUE_TEST_REDIS_URL not set")
	}
	client, err := redisnotify.Connect(context.Background(), url, 3, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return redisnotify.New(client, "tagqueue-test:")
}

func TestConnect_BadURL(t *testing.T) {
	_, err := redisnotify.Connect(context.Background(), "http://nope", 1, 0)
	assert.ErrorIs(t, err, redisnotify.ErrFailedToParseRedisURL)
}

func TestPublishSubscribe(t *testing.T) {
	n := connect(t)
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer sub.Close(ctx)

	require.NoError(t, n.Publish(ctx, "orders"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, sub.Wait(waitCtx))

	waitCtx, cancel = context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sub.Wait(waitCtx), context.DeadlineExceeded)
}

func TestQueueListensThroughRedis(t *testing.T) {
	n := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q, err := queue.New(memory.New(), queue.Options{Notifier: n, PollInterval: time.Minute})
	require.NoError(t, err)

	stream := q.Listen(ctx, "orders")
	defer stream.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), "orders", "hello")
	}()

	d, err := stream.Next(ctx)
	require.NoError(t, err)
	var got string
	require.NoError(t, d.Decode(&got))
	assert.Equal(t, "hello", got)
	require.NoError(t, d.Complete(ctx))
}
