package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (p *PostgresStore) createTableSQL() string {
	ident := pgx.Identifier{p.table}.Sanitize()
	index := func(col string) string {
		return pgx.Identifier{p.table + "_" + col + "_idx"}.Sanitize()
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id           serial       PRIMARY KEY,
    tag          varchar(31)  NOT NULL,
    content      varchar(%[2]d),
    created_at   timestamptz  NOT NULL DEFAULT current_timestamp,
    except_times integer      NOT NULL DEFAULT 0,
    schedule     timestamptz
);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (tag);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (created_at);
CREATE INDEX IF NOT EXISTS %[5]s ON %[1]s (schedule);`,
		ident, p.contentLength, index("tag"), index("created_at"), index("schedule"))
}

func (p *PostgresStore) dropTableSQL() string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{p.table}.Sanitize())
}

func (p *PostgresStore) upCreateTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, p.createTableSQL())
	return err
}

func (p *PostgresStore) downDropTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, p.dropTableSQL())
	return err
}
