// Package redisnotify carries tag wake-ups over Redis pub/sub instead of
// LISTEN/NOTIFY, for databases reached through a transaction-pooling proxy.
package redisnotify

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis url")
	ErrRedisNotReady         = errors.New("redis is not ready")
	ErrSubscriptionClosed    = errors.New("redis subscription closed")
)

// Ensure *Notifier implements store.Notifier at compile time.
var _ store.Notifier = (*Notifier)(nil)

// Notifier publishes one Redis channel per tag, named prefix + tag.
type Notifier struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Notifier {
	return &Notifier{client: client, prefix: prefix}
}

// Connect parses url, pings the server and retries until ctx or attempts run out.
func Connect(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	for range max(attempts, 1) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}

func (n *Notifier) channel(tag string) string {
	return n.prefix + tag
}

func (n *Notifier) Publish(ctx context.Context, tag string) error {
	return n.client.Publish(ctx, n.channel(tag), "").Err()
}

// Subscribe waits for Redis to confirm the subscription, so no publication
// after it returns can be missed.
func (n *Notifier) Subscribe(ctx context.Context, tag string) (store.Subscription, error) {
	ps := n.client.Subscribe(ctx, n.channel(tag))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &subscription{ps: ps, ch: ps.Channel()}, nil
}

type subscription struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

func (s *subscription) Wait(ctx context.Context) error {
	select {
	case _, ok := <-s.ch:
		if !ok {
			return ErrSubscriptionClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) Close(ctx context.Context) error {
	return s.ps.Close()
}

// Healthcheck returns a closure for health endpoints.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
