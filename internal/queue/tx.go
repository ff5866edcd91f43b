package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

type (
	txKey    struct{}
	hooksKey struct{}
)

// commitHooks run after InTx commits its transaction.
type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

func (h *commitHooks) add(fn func(ctx context.Context)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *commitHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// ContextWithTx makes every queue operation called with the returned context
// run inside tx. The caller stays responsible for committing it.
func ContextWithTx(ctx context.Context, tx store.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (store.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(store.Tx)
	return tx, ok && tx != nil
}

// InTx runs fn in a single store transaction. The transaction commits when
// fn returns nil and rolls back otherwise. If ctx already carries a
// transaction fn joins it.
func (q *Queue) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := q.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()

	hooks := &commitHooks{}
	txCtx := context.WithValue(ContextWithTx(ctx, tx), hooksKey{}, hooks)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	hooks.run(ctx)
	return nil
}

// afterCommit runs fn once the work done with ctx is committed. Inside InTx
// that is after its commit. A transaction attached with ContextWithTx alone
// is committed by the caller out of sight, so fn runs at once.
func afterCommit(ctx context.Context, owned bool, fn func(ctx context.Context)) {
	if !owned {
		if h, ok := ctx.Value(hooksKey{}).(*commitHooks); ok {
			h.add(fn)
			return
		}
	}
	fn(ctx)
}

// session returns the caller's transaction or a new one. owned reports
// whether this call has to finish it.
func (q *Queue) session(ctx context.Context) (tx store.Tx, owned bool, err error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx, false, nil
	}
	tx, err = q.store.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	return tx, true, nil
}

// finish commits an owned session on success and rolls it back on failure.
func finish(ctx context.Context, tx store.Tx, owned bool, err error) error {
	if !owned {
		return err
	}
	if err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, store.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// release rolls back an owned read-only session.
func release(ctx context.Context, tx store.Tx, owned bool) {
	if owned {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}
}
