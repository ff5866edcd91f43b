package queue

import (
	"context"
	"fmt"

	"github.com/aridsondez/tagqueue/internal/metrics"
)

// Claim takes custody of the oldest eligible message for tag. It returns
// nil when nothing is eligible or everything eligible is held elsewhere.
// The caller must end the returned Delivery.
func (q *Queue) Claim(ctx context.Context, tag string) (*Delivery, error) {
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

	d := &Delivery{
		q:     q,
		tx:    tx,
		owned: owned,
		tag:   tag,
		msg:   msg,
		ended: make(chan struct{}),
	}
	if q.ignoreAfter > 0 && msg.ExceptTimes >= q.ignoreAfter {
		d.poison = true
	}

	metrics.MessagesClaimed.WithLabelValues(tag).Inc()
	q.log.DebugContext(ctx, "claimed", "tag", tag, "id", msg.ID, "except_times", msg.ExceptTimes, "poison", d.poison)
	return d, nil
}
