package queue

import (
	"context"
	"fmt"

	"github.com/aridsondez/tagqueue/internal/metrics"
)

// Cancel deletes message id if nobody holds it. It reports false when the
// message does not exist or is in someone's custody.
func (q *Queue) Cancel(ctx context.Context, id int64) (bool, error) {
	tx, owned, err := q.session(ctx)
	if err != nil {
		return false, err
	}
	ok, err := tx.TryDelete(ctx, id)
	if err != nil {
		err = fmt.Errorf("cancel %d: %w", id, err)
	}
	if err := finish(ctx, tx, owned, err); err != nil {
		return false, err
	}
	if ok {
		metrics.MessagesCancelled.Inc()
		q.log.DebugContext(ctx, "cancelled", "id", id)
	}
	return ok, nil
}

// List returns the unheld messages for tag in id order. By default only
// claimable messages are listed.
func (q *Queue) List(ctx context.Context, tag string, opts ...ListOption) ([]Message, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}
	tx, owned, err := q.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release(ctx, tx, owned)

	msgs, err := tx.List(ctx, tag, listOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", tag, err)
	}
	return msgs, nil
}

// Count is List without the rows.
func (q *Queue) Count(ctx context.Context, tag string, opts ...ListOption) (int64, error) {
	if err := ValidateTag(tag); err != nil {
		return 0, err
	}
	tx, owned, err := q.session(ctx)
	if err != nil {
		return 0, err
	}
	defer release(ctx, tx, owned)

	n, err := tx.Count(ctx, tag, listOptions(opts))
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", tag, err)
	}
	return n, nil
}
