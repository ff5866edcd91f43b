package memory

import (
	"context"
	"slices"
	"time"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// Tx buffers its writes and applies them on Commit.
type Tx struct {
	s        *Store
	inserted []*store.Message
	deleted  map[int64]bool
	incr     map[int64]int
	held     map[int64]struct{}
	notify   []string
	done     bool
}

// view returns the rows visible to tx, ordered by id. Caller holds s.mu.
func (tx *Tx) view() []store.Message {
	out := make([]store.Message, 0, len(tx.s.rows)+len(tx.inserted))
	for id, m := range tx.s.rows {
		if tx.deleted[id] {
			continue
		}
		row := *m
		row.ExceptTimes += tx.incr[id]
		out = append(out, row)
	}
	for _, m := range tx.inserted {
		if tx.deleted[m.ID] {
			continue
		}
		row := *m
		row.ExceptTimes += tx.incr[m.ID]
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b store.Message) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (tx *Tx) find(id int64) (store.Message, bool) {
	for _, m := range tx.view() {
		if m.ID == id {
			return m, true
		}
	}
	return store.Message{}, false
}

// matching returns the rows for tag that pass opts and are not held elsewhere.
func (tx *Tx) matching(tag string, opts store.ListOptions) []store.Message {
	now := tx.s.now()
	var out []store.Message
	for _, m := range tx.view() {
		if m.Tag != tag {
			continue
		}
		if !opts.IncludeScheduled && !m.Visible(now) {
			continue
		}
		if !tx.s.lockable(tx, m.ID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (tx *Tx) Insert(ctx context.Context, tag, content string, schedule *time.Time) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return 0, store.ErrTxDone
	}

	tx.s.nextID++
	m := &store.Message{
		ID:        tx.s.nextID,
		Tag:       tag,
		Content:   content,
		CreatedAt: tx.s.now(),
	}
	if schedule != nil {
		at := *schedule
		m.Schedule = &at
	}
	tx.inserted = append(tx.inserted, m)
	tx.notify = append(tx.notify, tag)
	return m.ID, nil
}

func (tx *Tx) ClaimNext(ctx context.Context, tag string) (*store.Message, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return nil, store.ErrTxDone
	}

	now := tx.s.now()
	for _, m := range tx.view() {
		if m.Tag != tag || !m.Visible(now) || !tx.s.lockable(tx, m.ID) {
			continue
		}
		tx.s.locks[m.ID] = tx
		tx.held[m.ID] = struct{}{}
		return &m, nil
	}
	return nil, nil
}

func (tx *Tx) Delete(ctx context.Context, id int64) (bool, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return false, store.ErrTxDone
	}
	if _, ok := tx.find(id); !ok {
		return false, nil
	}
	tx.deleted[id] = true
	return true, nil
}

func (tx *Tx) TryDelete(ctx context.Context, id int64) (bool, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return false, store.ErrTxDone
	}
	if _, ok := tx.find(id); !ok || !tx.s.lockable(tx, id) {
		return false, nil
	}
	tx.s.locks[id] = tx
	tx.held[id] = struct{}{}
	tx.deleted[id] = true
	return true, nil
}

func (tx *Tx) IncrementExceptTimes(ctx context.Context, id int64) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return store.ErrTxDone
	}
	if _, ok := tx.find(id); ok {
		tx.incr[id]++
	}
	return nil
}

func (tx *Tx) List(ctx context.Context, tag string, opts store.ListOptions) ([]store.Message, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return nil, store.ErrTxDone
	}
	return tx.matching(tag, opts), nil
}

func (tx *Tx) Count(ctx context.Context, tag string, opts store.ListOptions) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return 0, store.ErrTxDone
	}
	return int64(len(tx.matching(tag, opts))), nil
}

func (tx *Tx) Commit(ctx context.Context) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return store.ErrTxDone
	}

	for _, m := range tx.inserted {
		tx.s.rows[m.ID] = m
	}
	for id, n := range tx.incr {
		if m, ok := tx.s.rows[id]; ok {
			m.ExceptTimes += n
		}
	}
	for id := range tx.deleted {
		delete(tx.s.rows, id)
	}
	tx.releaseLocked()

	seen := make(map[string]struct{})
	for _, tag := range tx.notify {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tx.s.publishLocked(tag)
	}
	return nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return store.ErrTxDone
	}
	tx.releaseLocked()
	return nil
}

func (tx *Tx) releaseLocked() {
	for id := range tx.held {
		if tx.s.locks[id] == tx {
			delete(tx.s.locks, id)
		}
	}
	tx.done = true
}
