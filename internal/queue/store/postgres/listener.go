package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

var (
	ErrListenerClosed     = errors.New("listener closed")
	errSubscriptionClosed = errors.New("subscription closed")
)

const listenStatementTimeout = 10 * time.Second

// listener multiplexes every subscription of a store over one dedicated
// connection opened outside the pool, so waiting consumers never hold pool
// slots. LISTEN and UNLISTEN are queued and run between waits.
type listener struct {
	p *PostgresStore

	startMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*channelState
	ops      []listenOp
	wake     context.CancelFunc
	running  bool
	closed   bool
	stopped  chan struct{}
}

type channelState struct {
	subs  map[*subscription]struct{}
	ready chan struct{} // closed once LISTEN ran
	err   error
}

type listenOp struct {
	channel string
	sql     string
	state   *channelState // set for LISTEN
}

func newListener(p *PostgresStore) *listener {
	return &listener{p: p, channels: make(map[string]*channelState)}
}

// Subscribe implements store.Notifier. It returns once the channel is
// being listened on.
func (p *PostgresStore) Subscribe(ctx context.Context, tag string) (store.Subscription, error) {
	return p.listener.subscribe(ctx, p.channel(tag))
}

func (l *listener) subscribe(ctx context.Context, ch string) (store.Subscription, error) {
	sub := &subscription{
		l:       l,
		channel: ch,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	var state *channelState
	for attempt := 0; state == nil; attempt++ {
		if err := l.start(ctx); err != nil {
			return nil, err
		}
		l.mu.Lock()
		if l.running {
			state = l.register(sub)
		}
		l.mu.Unlock()
		if state == nil && attempt >= 2 {
			return nil, fmt.Errorf("listen %s: connection keeps failing", ch)
		}
	}

	select {
	case <-state.ready:
		if state.err != nil {
			sub.finish(state.err)
			return nil, fmt.Errorf("listen %s: %w", ch, state.err)
		}
		return sub, nil
	case <-ctx.Done():
		_ = sub.Close(ctx)
		return nil, ctx.Err()
	}
}

// register adds sub to its channel and queues LISTEN for a new channel.
// l.mu must be held.
func (l *listener) register(sub *subscription) *channelState {
	state := l.channels[sub.channel]
	if state == nil {
		state = &channelState{
			subs:  make(map[*subscription]struct{}),
			ready: make(chan struct{}),
		}
		l.channels[sub.channel] = state
		l.ops = append(l.ops, listenOp{
			channel: sub.channel,
			sql:     "LISTEN " + pgx.Identifier{sub.channel}.Sanitize(),
			state:   state,
		})
		l.interrupt()
	}
	state.subs[sub] = struct{}{}
	return state
}

func (l *listener) remove(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.channels[sub.channel]
	if state == nil {
		return
	}
	if _, ok := state.subs[sub]; !ok {
		return
	}
	delete(state.subs, sub)
	if len(state.subs) > 0 {
		return
	}
	delete(l.channels, sub.channel)
	if l.running {
		l.ops = append(l.ops, listenOp{
			channel: sub.channel,
			sql:     "UNLISTEN " + pgx.Identifier{sub.channel}.Sanitize(),
		})
		l.interrupt()
	}
}

// start opens the listen connection unless it is already running.
func (l *listener) start(ctx context.Context) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	l.mu.Lock()
	running, closed := l.running, l.closed
	l.mu.Unlock()
	if closed {
		return ErrListenerClosed
	}
	if running {
		return nil
	}

	conn, err := pgx.ConnectConfig(ctx, l.p.pool.Config().ConnConfig.Copy())
	if err != nil {
		return fmt.Errorf("open listen connection: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close(context.Background())
		return ErrListenerClosed
	}
	l.running = true
	l.stopped = make(chan struct{})
	stopped := l.stopped
	l.mu.Unlock()

	go l.run(conn, stopped)
	return nil
}

// interrupt cuts the current wait short. l.mu must be held.
func (l *listener) interrupt() {
	if l.wake != nil {
		l.wake()
	}
}

func (l *listener) run(conn *pgx.Conn, stopped chan struct{}) {
	defer close(stopped)
	log := l.p.log.With("component", "listener")
	log.Debug("listen connection opened")

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			l.fail(conn, ErrListenerClosed)
			return
		}
		ops := l.ops
		l.ops = nil
		waitCtx, cancel := context.WithCancel(context.Background())
		l.wake = cancel
		l.mu.Unlock()

		if len(ops) > 0 {
			cancel()
			if err := l.apply(conn, ops); err != nil {
				log.Warn("listen connection lost", "error", err)
				l.fail(conn, err)
				return
			}
			continue
		}

		n, err := conn.WaitForNotification(waitCtx)
		interrupted := waitCtx.Err() != nil
		cancel()
		if err != nil {
			if interrupted && !conn.IsClosed() {
				continue
			}
			log.Warn("listen connection lost", "error", err)
			l.fail(conn, err)
			return
		}
		if n != nil {
			l.dispatch(n.Channel)
		}
	}
}

// apply runs queued LISTEN/UNLISTEN statements in order.
func (l *listener) apply(conn *pgx.Conn, ops []listenOp) error {
	for i, op := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), listenStatementTimeout)
		_, err := conn.Exec(ctx, op.sql)
		cancel()

		if op.state != nil {
			l.mu.Lock()
			op.state.err = err
			close(op.state.ready)
			if err != nil {
				for sub := range op.state.subs {
					sub.finish(err)
				}
				if l.channels[op.channel] == op.state {
					delete(l.channels, op.channel)
				}
			}
			l.mu.Unlock()
		}
		if err != nil && conn.IsClosed() {
			// hand the rest back so fail can release their waiters
			l.mu.Lock()
			l.ops = append(ops[i+1:], l.ops...)
			l.mu.Unlock()
			return err
		}
	}
	return nil
}

func (l *listener) dispatch(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.channels[channel]
	if state == nil {
		return
	}
	for sub := range state.subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// fail ends every subscription with err and drops the connection. The next
// Subscribe opens a new one.
func (l *listener) fail(conn *pgx.Conn, err error) {
	l.mu.Lock()
	for _, op := range l.ops {
		if op.state != nil {
			op.state.err = err
			close(op.state.ready)
		}
	}
	for _, state := range l.channels {
		for sub := range state.subs {
			sub.finish(err)
		}
	}
	l.channels = make(map[string]*channelState)
	l.ops = nil
	l.wake = nil
	l.running = false
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// close stops the listen connection and waits for it.
func (l *listener) close() {
	l.mu.Lock()
	l.closed = true
	l.interrupt()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
}

// subscription is one consumer's view of a channel on the shared connection.
type subscription struct {
	l       *listener
	channel string
	notify  chan struct{}

	once sync.Once
	done chan struct{}
	err  error
}

// Wait returns nil on a notification, ctx.Err() on timeout and the
// connection error if the listener lost its connection.
func (s *subscription) Wait(ctx context.Context) error {
	select {
	case <-s.notify:
		return nil
	default:
	}
	select {
	case <-s.notify:
		return nil
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) Close(context.Context) error {
	s.l.remove(s)
	s.finish(errSubscriptionClosed)
	return nil
}

func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
