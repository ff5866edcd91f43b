package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// ErrClosed is returned by subscriptions once the store has been closed.
var ErrClosed = errors.New("memory: store closed")

// Ensure *Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-process implementation of store.Store for tests and local
// development. Claims behave like transaction-scoped locks: they are held
// until the claiming Tx commits or rolls back.
type Store struct {
	mu     sync.Mutex
	rows   map[int64]*store.Message
	locks  map[int64]*Tx
	subs   map[string]map[*subscription]struct{}
	nextID int64
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for visibility checks and created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		rows:  make(map[int64]*store.Message),
		locks: make(map[int64]*Tx),
		subs:  make(map[string]map[*subscription]struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin implements store.Store.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		s:       s,
		deleted: make(map[int64]bool),
		incr:    make(map[int64]int),
		held:    make(map[int64]struct{}),
	}, nil
}

// DueTags implements store.Store.
func (s *Store) DueTags(ctx context.Context, since, until time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var tags []string
	for _, m := range s.rows {
		if m.Schedule == nil || !m.Schedule.After(since) || m.Schedule.After(until) {
			continue
		}
		if _, ok := seen[m.Tag]; ok {
			continue
		}
		seen[m.Tag] = struct{}{}
		tags = append(tags, m.Tag)
	}
	slices.Sort(tags)
	return tags, nil
}

// Publish implements store.Notifier.
func (s *Store) Publish(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(tag)
	return nil
}

func (s *Store) publishLocked(tag string) {
	for sub := range s.subs[tag] {
		select {
		case sub.ch <- struct{}{}:
		default:
			// a wake-up is already pending
		}
	}
}

// Subscribe implements store.Notifier.
func (s *Store) Subscribe(ctx context.Context, tag string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{s: s, tag: tag, ch: make(chan struct{}, 1), done: make(chan struct{})}
	if s.subs[tag] == nil {
		s.subs[tag] = make(map[*subscription]struct{})
	}
	s.subs[tag][sub] = struct{}{}
	return sub, nil
}

// Close drops every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, subs := range s.subs {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(s.subs, tag)
	}
}

// Len returns the number of committed rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// lockable reports whether tx may take the claim on id.
func (s *Store) lockable(tx *Tx, id int64) bool {
	holder, ok := s.locks[id]
	return !ok || holder == tx
}

type subscription struct {
	s      *Store
	tag    string
	ch     chan struct{}
	done   chan struct{}
	closed bool
}

func (sub *subscription) Wait(ctx context.Context) error {
	select {
	case <-sub.ch:
		return nil
	case <-sub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sub *subscription) Close(ctx context.Context) error {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	sub.closeLocked()
	delete(sub.s.subs[sub.tag], sub)
	return nil
}

func (sub *subscription) closeLocked() {
	if !sub.closed {
		sub.closed = true
		close(sub.done)
	}
}
