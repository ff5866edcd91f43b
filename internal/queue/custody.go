package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aridsondez/tagqueue/internal/metrics"
	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// Delivery is exclusive custody of one claimed message. It must be ended
// exactly once with Complete, Fail or Abandon. A poison delivery carries no
// payload and is always deleted when its custody ends.
type Delivery struct {
	q      *Queue
	tx     store.Tx
	owned  bool
	tag    string
	msg    *Message
	poison bool
	idle   bool

	mu    sync.Mutex
	ended chan struct{}
}

func idleDelivery(tag string) *Delivery {
	d := &Delivery{tag: tag, idle: true, ended: make(chan struct{})}
	close(d.ended)
	return d
}

// Message returns the claimed row, or nil for poison and idle deliveries.
func (d *Delivery) Message() *Message {
	if d.poison || d.idle {
		return nil
	}
	return d.msg
}

// ID returns the claimed row id, or 0 for an idle delivery.
func (d *Delivery) ID() int64 {
	if d.msg == nil {
		return 0
	}
	return d.msg.ID
}

func (d *Delivery) Tag() string { return d.tag }

// Poison reports whether the message exceeded the failure threshold.
func (d *Delivery) Poison() bool { return d.poison }

// Idle reports whether this is an idle sentinel from a listener.
func (d *Delivery) Idle() bool { return d.idle }

// Decode unmarshals the payload into v.
func (d *Delivery) Decode(v any) error {
	m := d.Message()
	if m == nil {
		return fmt.Errorf("delivery %d has no payload", d.ID())
	}
	return d.q.codec.Unmarshal(m.Content, v)
}

// Complete deletes the message and commits.
func (d *Delivery) Complete(ctx context.Context) error {
	if d.idle {
		return nil
	}
	return d.end(ctx, func(ctx context.Context) error {
		if _, err := d.tx.Delete(ctx, d.msg.ID); err != nil {
			return fmt.Errorf("delete %d: %w", d.msg.ID, err)
		}
		return nil
	}, d.completed)
}

// Fail records a processing failure and commits. It returns cause unchanged,
// joined with the store error if the failure could not be recorded.
func (d *Delivery) Fail(ctx context.Context, cause error) error {
	if d.idle {
		return cause
	}
	if d.poison {
		if err := d.Complete(ctx); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}
	err := d.end(ctx, func(ctx context.Context) error {
		if err := d.tx.IncrementExceptTimes(ctx, d.msg.ID); err != nil {
			return fmt.Errorf("record failure of %d: %w", d.msg.ID, err)
		}
		return nil
	}, func() {
		metrics.MessagesFailed.WithLabelValues(d.tag).Inc()
		d.q.log.InfoContext(ctx, "processing failed", "tag", d.tag, "id", d.msg.ID,
			"except_times", d.msg.ExceptTimes+1, "error", cause)
	})
	if err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Abandon releases the claim without recording anything, the same outcome
// as a crash. Poison is still deleted.
func (d *Delivery) Abandon(ctx context.Context) error {
	if d.idle {
		return nil
	}
	if d.poison {
		return d.Complete(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isEnded() {
		return ErrCustodyEnded
	}
	defer close(d.ended)
	if !d.owned {
		return nil
	}
	if err := d.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, store.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Done ends custody from a handler result: nil completes, anything else fails.
func (d *Delivery) Done(ctx context.Context, err error) error {
	if err == nil {
		return d.Complete(ctx)
	}
	return d.Fail(ctx, err)
}

// Ended is closed once custody is over.
func (d *Delivery) Ended() <-chan struct{} {
	return d.ended
}

func (d *Delivery) isEnded() bool {
	select {
	case <-d.ended:
		return true
	default:
		return false
	}
}

// end runs op and commits the owned session, rolling back if either fails.
// The outcome is written even when ctx is already done, since a handler that
// failed on its deadline still has to be counted.
func (d *Delivery) end(ctx context.Context, op func(ctx context.Context) error, onSuccess func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isEnded() {
		return ErrCustodyEnded
	}
	defer close(d.ended)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), EndTimeout)
	defer cancel()
	if err := finish(ctx, d.tx, d.owned, op(ctx)); err != nil {
		return err
	}
	onSuccess()
	return nil
}

func (d *Delivery) completed() {
	if d.poison {
		metrics.MessagesPoisoned.WithLabelValues(d.tag).Inc()
		d.q.log.Warn("poison message disposed", "tag", d.tag, "id", d.msg.ID, "except_times", d.msg.ExceptTimes)
		return
	}
	metrics.MessagesCompleted.WithLabelValues(d.tag).Inc()
}
