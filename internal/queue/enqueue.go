package queue

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aridsondez/tagqueue/internal/metrics"
)

type enqueueOptions struct {
	schedule *time.Time
	delay    time.Duration
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithSchedule hides the message from claims until at.
func WithSchedule(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.schedule = &at
	}
}

// WithDelay hides the message from claims for d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// Enqueue serializes payload, stores it under tag and wakes the tag's
// listeners once the insert commits. It returns the new message id.
//
// An external Notifier is published to after InTx commits. With a
// transaction attached by ContextWithTx only, the publish happens before the
// caller commits and listeners that miss the row pick it up on their next
// safety poll.
func (q *Queue) Enqueue(ctx context.Context, tag string, payload any, opts ...EnqueueOption) (int64, error) {
	if err := ValidateTag(tag); err != nil {
		return 0, err
	}

	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	schedule := o.schedule
	if schedule == nil && o.delay > 0 {
		at := time.Now().Add(o.delay)
		schedule = &at
	}

	content, err := q.codec.Marshal(payload)
	if err != nil {
		return 0, err
	}
	// the column is varchar(n), which counts characters
	if n := utf8.RuneCountInString(content); n > q.contentLength {
		return 0, fmt.Errorf("%w: %d characters, limit %d", ErrContentTooLong, n, q.contentLength)
	}

	tx, owned, err := q.session(ctx)
	if err != nil {
		return 0, err
	}
	id, err := tx.Insert(ctx, tag, content, schedule)
	if err != nil {
		err = fmt.Errorf("insert into %q: %w", tag, err)
	}
	if err := finish(ctx, tx, owned, err); err != nil {
		return 0, err
	}

	if q.external {
		afterCommit(ctx, owned, func(ctx context.Context) {
			if err := q.notifier.Publish(ctx, tag); err != nil {
				q.log.WarnContext(ctx, "publish failed, listeners will poll", "tag", tag, "error", err)
			}
		})
	}

	metrics.MessagesEnqueued.WithLabelValues(tag).Inc()
	q.log.DebugContext(ctx, "enqueued", "tag", tag, "id", id, "scheduled", schedule != nil)
	return id, nil
}
