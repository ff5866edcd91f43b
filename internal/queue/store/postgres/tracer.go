package postgres

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// tracer logs every query at debug level. It is safe for concurrent use.
type tracer struct {
	log *slog.Logger
}

type queryData struct {
	sql   string
	start time.Time
}

type ctxKey struct{}

// NewTracer returns a pgx.QueryTracer writing to log.
func NewTracer(log *slog.Logger) pgx.QueryTracer {
	return &tracer{log: log}
}

func (t *tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if !t.log.Enabled(ctx, slog.LevelDebug) {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, &queryData{sql: data.SQL, start: time.Now()})
}

func (t *tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qd, ok := ctx.Value(ctxKey{}).(*queryData)
	if !ok {
		return
	}
	attrs := []any{
		"sql", strings.Join(strings.Fields(qd.sql), " "),
		"duration", time.Since(qd.start),
		"rows", data.CommandTag.RowsAffected(),
	}
	if data.Err != nil {
		t.log.DebugContext(ctx, "query failed", append(attrs, "error", data.Err)...)
		return
	}
	t.log.DebugContext(ctx, "query", attrs...)
}
