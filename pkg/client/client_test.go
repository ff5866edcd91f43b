package client_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/api"
	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store/memory"
	"github.com/aridsondez/tagqueue/pkg/client"
)

func newClient(t *testing.T) (*client.Client, *queue.Queue) {
	t.Helper()
	q, err := queue.New(memory.New(), queue.Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer("", q).Handler)
	t.Cleanup(srv.Close)
	return client.NewClient(srv.URL), q
}

func TestClient_RoundTrip(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	type order struct {
		ID    int    `json:"id"`
		Email string `json:"email"`
	}

	id, err := c.Enqueue(ctx, "orders", order{ID: 1, Email: "a@example.com"}, nil)
	require.NoError(t, err)

	_, err = c.Enqueue(ctx, "orders", order{ID: 2}, &client.EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)

	n, err := c.Count(ctx, "orders", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	msgs, err := c.List(ctx, "orders", true)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotNil(t, msgs[1].Schedule)

	msg, err := c.Dequeue(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	var got order
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, order{ID: 1, Email: "a@example.com"}, got)

	msg, err = c.Dequeue(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestClient_Cancel(t *testing.T) {
	c, q := newClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "orders", "x", &client.EnqueueOptions{Schedule: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	ok, err := c.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := q.Count(ctx, "orders", queue.IncludeScheduled())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_Errors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "bad'tag", "x", nil)
	assert.ErrorContains(t, err, "400")

	_, err = c.Enqueue(ctx, "orders", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal body")
}

func TestClient_TagNeedingEscape(t *testing.T) {
	c, q := newClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "billing/eu", "x", nil)
	require.NoError(t, err)

	n, err := q.Count(ctx, "billing/eu")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	msgs, err := c.List(ctx, "billing/eu", false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "billing/eu", msgs[0].Tag)
}
