package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

type pgTx struct {
	p  *PostgresStore
	tx pgx.Tx
}

func (t *pgTx) Insert(ctx context.Context, tag, content string, schedule *time.Time) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, t.p.sql.insert, tag, content, schedule).Scan(&id); err != nil {
		return 0, err
	}
	// delivered when the transaction commits, dropped on rollback
	if _, err := t.tx.Exec(ctx, sqlNotify, t.p.channel(tag)); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) ClaimNext(ctx context.Context, tag string) (*store.Message, error) {
	for {
		var id int64
		err := t.tx.QueryRow(ctx, t.p.sql.claim, tag).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		// The lock may have been won on a row another consumer deleted after
		// our snapshot was taken. A fresh statement sees that delete.
		m, err := t.fetch(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (t *pgTx) fetch(ctx context.Context, id int64) (*store.Message, error) {
	rows, err := t.tx.Query(ctx, t.p.sql.fetch, id)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[store.Message])
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) Delete(ctx context.Context, id int64) (bool, error) {
	ct, err := t.tx.Exec(ctx, t.p.sql.delete, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) TryDelete(ctx context.Context, id int64) (bool, error) {
	ct, err := t.tx.Exec(ctx, t.p.sql.tryDelete, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) IncrementExceptTimes(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, t.p.sql.increment, id)
	return err
}

func (t *pgTx) List(ctx context.Context, tag string, opts store.ListOptions) ([]store.Message, error) {
	rows, err := t.tx.Query(ctx, t.p.sql.list, tag, opts.IncludeScheduled)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[store.Message])
}

func (t *pgTx) Count(ctx context.Context, tag string, opts store.ListOptions) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, t.p.sql.count, tag, opts.IncludeScheduled).Scan(&n)
	return n, err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return txErr(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return txErr(t.tx.Rollback(ctx))
}

func txErr(err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return store.ErrTxDone
	}
	return err
}
