package queue

import (
	"context"
	"errors"
	"time"

	"github.com/aridsondez/tagqueue/internal/metrics"
	"github.com/aridsondez/tagqueue/internal/queue/store"
)

type listenOptions struct {
	idleTimeout time.Duration
}

// ListenOption configures Listen and Consume.
type ListenOption func(*listenOptions)

// WithIdleTimeout makes the stream yield an idle Delivery after d without a
// message. Zero disables idle sentinels.
func WithIdleTimeout(d time.Duration) ListenOption {
	return func(o *listenOptions) {
		o.idleTimeout = d
	}
}

// Stream is a long-running listener on one tag. Deliveries are produced by
// a background goroutine and read with Next. Each delivery must be ended
// before the stream claims the next one.
type Stream struct {
	q           *Queue
	tag         string
	idleTimeout time.Duration

	ch     chan *Delivery
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Listen starts a stream on tag. It runs until Close is called or ctx is
// done. Poison messages are deleted without being yielded.
func (q *Queue) Listen(ctx context.Context, tag string, opts ...ListenOption) *Stream {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		q:           q,
		tag:         tag,
		idleTimeout: o.idleTimeout,
		ch:          make(chan *Delivery, 1),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	if err := ValidateTag(tag); err != nil {
		s.err = err
		close(s.ch)
		close(s.done)
		return s
	}
	go s.run(ctx)
	return s
}

// Next returns the next delivery. It fails with ErrStreamClosed once the
// stream has stopped, or with the error that stopped it.
func (s *Stream) Next(ctx context.Context) (*Delivery, error) {
	select {
	case d, ok := <-s.ch:
		if !ok {
			<-s.done
			if s.err != nil {
				return nil, s.err
			}
			return nil, ErrStreamClosed
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the stream and waits for its goroutine. A delivery still in
// custody is abandoned.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return s.err
}

// Err returns the error that stopped the stream, if any.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) run(ctx context.Context) {
	log := s.q.log.With("tag", s.tag)
	var sub store.Subscription
	defer func() {
		if sub != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := sub.Close(closeCtx); err != nil {
				log.Warn("closing subscription", "error", err)
			}
			cancel()
		}
		// drop an unread delivery
		select {
		case d := <-s.ch:
			_ = d.Abandon(context.WithoutCancel(ctx))
		default:
		}
		close(s.ch)
		close(s.done)
	}()

	log.DebugContext(ctx, "listening", "poll_interval", s.q.pollInterval, "idle_timeout", s.idleTimeout)
	idleSince := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		d, err := s.q.Claim(ctx, s.tag)
		if err != nil {
			if ctx.Err() == nil {
				s.err = err
				log.ErrorContext(ctx, "listener stopped", "error", err)
			}
			return
		}
		if d != nil {
			if d.poison {
				if err := d.Complete(ctx); err != nil && ctx.Err() == nil {
					log.WarnContext(ctx, "disposing poison message", "id", d.ID(), "error", err)
				}
				idleSince = time.Now()
				continue
			}
			if !s.deliver(ctx, d) {
				return
			}
			idleSince = time.Now()
			continue
		}

		if sub == nil {
			sub, err = s.q.notifier.Subscribe(ctx, s.tag)
			if err != nil {
				if ctx.Err() == nil {
					s.err = err
					log.ErrorContext(ctx, "subscribe failed", "error", err)
				}
				return
			}
			// catch anything enqueued before the subscription existed
			continue
		}

		wait := s.q.pollInterval
		idle := false
		if s.idleTimeout > 0 {
			left := s.idleTimeout - time.Since(idleSince)
			if left <= wait {
				wait, idle = left, true
			}
		}

		if wait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, wait)
			err = sub.Wait(waitCtx)
			cancel()
		} else {
			err = context.DeadlineExceeded
		}

		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			metrics.ListenWakeups.WithLabelValues("notify").Inc()
		case errors.Is(err, context.DeadlineExceeded):
			if !idle {
				metrics.ListenWakeups.WithLabelValues("poll").Inc()
				continue
			}
			metrics.ListenWakeups.WithLabelValues("idle").Inc()
			if !s.deliver(ctx, idleDelivery(s.tag)) {
				return
			}
			idleSince = time.Now()
		default:
			log.WarnContext(ctx, "subscription lost, resubscribing", "error", err)
			_ = sub.Close(ctx)
			sub = nil
		}
	}
}

// deliver hands d to the reader and waits for its custody to end.
func (s *Stream) deliver(ctx context.Context, d *Delivery) bool {
	select {
	case s.ch <- d:
	case <-ctx.Done():
		_ = d.Abandon(context.WithoutCancel(ctx))
		return false
	}
	select {
	case <-d.ended:
		return true
	case <-ctx.Done():
		if err := d.Abandon(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrCustodyEnded) {
			s.q.log.Warn("abandoning delivery", "tag", s.tag, "id", d.ID(), "error", err)
		}
		return false
	}
}

// Consume listens on tag and runs fn for every delivery until ctx is done.
// Idle sentinels are passed to fn as well. Processing failures are recorded
// and logged; only store failures stop Consume.
func (q *Queue) Consume(ctx context.Context, tag string, fn Handler, opts ...ListenOption) error {
	s := q.Listen(ctx, tag, opts...)
	defer s.Close()

	for {
		d, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := q.process(ctx, d, fn); err != nil && !d.idle {
			q.log.WarnContext(ctx, "message not completed", "tag", tag, "id", d.ID(), "error", err)
		}
	}
}
