package queue

import (
	"log/slog"
	"time"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

const (
	DefaultContentLength = 1023
	DefaultPollInterval  = time.Second

	// EndTimeout bounds the statements that end a custody.
	EndTimeout = 10 * time.Second
)

// Options tunes a Queue. The zero value is usable.
type Options struct {
	// Codec serializes payloads. Defaults to JSON.
	Codec Codec

	// ContentLength caps the serialized payload in characters. Defaults to 1023.
	ContentLength int

	// IgnoreAfter turns a message into poison once it has failed this many
	// times. Zero keeps retrying forever.
	IgnoreAfter int

	// PollInterval bounds how long a listener waits without a notification.
	PollInterval time.Duration

	// Notifier overrides the store's own publish/subscribe channel.
	Notifier store.Notifier

	Logger *slog.Logger
}

// Queue runs the claim protocol on top of a store.
type Queue struct {
	store         store.Store
	notifier      store.Notifier
	external      bool
	codec         Codec
	contentLength int
	ignoreAfter   int
	pollInterval  time.Duration
	log           *slog.Logger
}

// New wraps s with the given options.
func New(s store.Store, opts Options) (*Queue, error) {
	if s == nil {
		return nil, ErrNilStore
	}
	q := &Queue{
		store:         s,
		notifier:      opts.Notifier,
		codec:         opts.Codec,
		contentLength: opts.ContentLength,
		ignoreAfter:   opts.IgnoreAfter,
		pollInterval:  opts.PollInterval,
		log:           opts.Logger,
	}
	if q.notifier == nil {
		q.notifier = s
	} else {
		q.external = true
	}
	if q.codec == nil {
		q.codec = JSON{}
	}
	if q.contentLength <= 0 {
		q.contentLength = DefaultContentLength
	}
	if q.ignoreAfter < 0 {
		q.ignoreAfter = 0
	}
	if q.pollInterval <= 0 {
		q.pollInterval = DefaultPollInterval
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	q.log = q.log.With("component", "queue")
	return q, nil
}

// Store returns the underlying store.
func (q *Queue) Store() store.Store {
	return q.store
}

// Codec returns the payload codec.
func (q *Queue) Codec() Codec {
	return q.codec
}

// Decode unmarshals a message's content with the queue's codec.
func (q *Queue) Decode(m *Message, v any) error {
	return q.codec.Unmarshal(m.Content, v)
}
