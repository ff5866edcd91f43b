package queue

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/aridsondez/tagqueue/internal/metrics"
)

// Handler processes one delivery. Returning nil completes it, an error
// records a failure. Poison deliveries reach the handler without a payload
// and are deleted whatever it returns.
type Handler func(ctx context.Context, d *Delivery) error

// Dequeue claims one message for tag and runs fn inside the custody. It
// reports false when nothing was eligible. A failing fn yields its error
// unchanged after the failure has been recorded.
func (q *Queue) Dequeue(ctx context.Context, tag string, fn Handler) (bool, error) {
	d, err := q.Claim(ctx, tag)
	if err != nil || d == nil {
		return false, err
	}
	return true, q.process(ctx, d, fn)
}

// process runs fn and ends the custody unless fn already did.
func (q *Queue) process(ctx context.Context, d *Delivery, fn Handler) error {
	err := safeHandle(ctx, d, fn)
	if d.isEnded() {
		return err
	}
	return d.Done(ctx, err)
}

func safeHandle(ctx context.Context, d *Delivery, fn Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, d)
}

// DequeueImmediate claims the oldest eligible message and deletes it in the
// same transaction without processing. It returns nil when none is eligible.
func (q *Queue) DequeueImmediate(ctx context.Context, tag string) (*Message, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}

	tx, owned, err := q.session(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := tx.ClaimNext(ctx, tag)
	if err != nil {
		release(ctx, tx, owned)
		return nil, fmt.Errorf("claim %q: %w", tag, err)
	}
	if msg == nil {
		release(ctx, tx, owned)
		return nil, nil
	}
	if _, err := tx.Delete(ctx, msg.ID); err != nil {
		return nil, finish(ctx, tx, owned, fmt.Errorf("delete %d: %w", msg.ID, err))
	}
	if err := finish(ctx, tx, owned, nil); err != nil {
		return nil, err
	}

	metrics.MessagesClaimed.WithLabelValues(tag).Inc()
	metrics.MessagesCompleted.WithLabelValues(tag).Inc()
	return msg, nil
}
