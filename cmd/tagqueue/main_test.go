package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/tagqueue/internal/queue"
	"github.com/aridsondez/tagqueue/internal/queue/store/memory"
)

type fakeTables struct {
	created, dropped, reset int
}

func (f *fakeTables) CreateTable(context.Context) error { f.created++; return nil }
func (f *fakeTables) DropTable(context.Context) error   { f.dropped++; return nil }
func (f *fakeTables) ResetTable(context.Context) error  { f.reset++; return nil }

type harness struct {
	q      *queue.Queue
	tables *fakeTables
	flags  *rootFlags
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.New()
	t.Cleanup(s.Close)
	q, err := queue.New(s, queue.Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	return &harness{q: q, tables: &fakeTables{}}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	open := func(_ context.Context, flags *rootFlags) (*backend, error) {
		h.flags = flags
		return &backend{queue: h.q, tables: h.tables, close: func() {}}, nil
	}
	cmd := newRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestMigrateAndDrop(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "migrate", "--table", "jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, h.tables.created)
	assert.Equal(t, "jobs", h.flags.table)

	_, err = h.run(t, "migrate", "--reset")
	require.NoError(t, err)
	assert.Equal(t, 1, h.tables.reset)

	_, err = h.run(t, "drop")
	require.NoError(t, err)
	assert.Equal(t, 1, h.tables.dropped)
}

func TestEnqueueListCount(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "enqueue", "emails", `{"to":"a@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = h.run(t, "enqueue", "emails", "plain", "--delay", "1h")
	require.NoError(t, err)

	out, err = h.run(t, "count", "emails")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = h.run(t, "count", "emails", "--include-scheduled")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = h.run(t, "list", "emails", "--include-scheduled")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first, second queue.Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, `{"to":"a@example.com"}`, first.Content)
	assert.Equal(t, `"plain"`, second.Content)
	assert.NotNil(t, second.Schedule)
}

func TestEnqueueBadSchedule(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "enqueue", "emails", "x", "--schedule", "tomorrow")
	assert.ErrorContains(t, err, "invalid --schedule")
}

func TestDequeue(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "dequeue", "emails")
	assert.ErrorContains(t, err, "no eligible message")

	_, err = h.run(t, "enqueue", "emails", `"hi"`)
	require.NoError(t, err)

	out, err := h.run(t, "dequeue", "emails")
	require.NoError(t, err)
	var m queue.Message
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, `"hi"`, m.Content)

	out, err = h.run(t, "count", "emails")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "cancel", "abc")
	assert.ErrorContains(t, err, "invalid id")

	_, err = h.run(t, "cancel", "7")
	assert.ErrorContains(t, err, "not found")

	_, err = h.run(t, "enqueue", "emails", "1")
	require.NoError(t, err)
	out, err := h.run(t, "cancel", "1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled 1\n", out)
}

func TestListenStopsAfterMax(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{"1", "2", "3"} {
		_, err := h.run(t, "enqueue", "jobs", body)
		require.NoError(t, err)
	}

	out, err := h.run(t, "listen", "jobs", "--max", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var m queue.Message
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
	assert.Equal(t, "2", m.Content)

	out, err = h.run(t, "count", "jobs")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestArgsAreChecked(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "enqueue", "only-tag")
	assert.Error(t, err)
}
