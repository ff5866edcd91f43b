package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

const sqlNotify = `SELECT pg_notify($1, '')`

// queries holds the statements for one table.
type queries struct {
	insert    string
	claim     string
	fetch     string
	delete    string
	tryDelete string
	increment string
	list      string
	count     string
	dueTags   string
}

func newQueries(table string) queries {
	ident := pgx.Identifier{table}.Sanitize()
	// advisory lock keys are (table oid, row id), matching tableoid::int
	key := fmt.Sprintf("'%s'::regclass::oid::int", ident)

	const eligible = `tag = $1 AND (schedule IS NULL OR schedule <= now())`

	// probe takes the session lock and drops it again in the same
	// expression, so rows held by other transactions are skipped without
	// this statement keeping anything.
	probe := fmt.Sprintf(`CASE WHEN pg_try_advisory_lock(%[1]s, id) THEN pg_advisory_unlock(%[1]s, id) ELSE false END`, key)
	visible := `tag = $1 AND ($2::boolean OR schedule IS NULL OR schedule <= now())`
	columns := `id, tag, coalesce(content, ''), created_at, except_times, schedule`

	return queries{
		insert: fmt.Sprintf(`
INSERT INTO %s (tag, content, schedule)
VALUES ($1, $2, $3)
RETURNING id`, ident),

		// Walk eligible ids in ascending order, try-locking each, and stop at
		// the first lock we get.
		claim: fmt.Sprintf(`
WITH RECURSIVE candidate AS (
  SELECT (m).id AS id, pg_try_advisory_xact_lock(%[2]s, (m).id) AS locked
  FROM (
    SELECT m FROM %[1]s AS m
    WHERE %[3]s
    ORDER BY id
    LIMIT 1
  ) AS first
  UNION ALL (
    SELECT (m).id, pg_try_advisory_xact_lock(%[2]s, (m).id)
    FROM (
      SELECT (
        SELECT m FROM %[1]s AS m
        WHERE %[3]s AND id > candidate.id
        ORDER BY id
        LIMIT 1
      ) AS m
      FROM candidate
      WHERE candidate.id IS NOT NULL
      LIMIT 1
    ) AS next
  )
)
SELECT id FROM candidate WHERE locked LIMIT 1`, ident, key, eligible),

		fetch: fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, ident),

		delete: fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, ident),

		tryDelete: fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND pg_try_advisory_xact_lock(%s, id)`, ident, key),

		increment: fmt.Sprintf(`UPDATE %s SET except_times = except_times + 1 WHERE id = $1`, ident),

		list: fmt.Sprintf(`
SELECT %s FROM %s
WHERE CASE WHEN %s THEN %s ELSE false END
ORDER BY id`, columns, ident, visible, probe),

		count: fmt.Sprintf(`
SELECT count(*) FROM %s
WHERE CASE WHEN %s THEN %s ELSE false END`, ident, visible, probe),

		dueTags: fmt.Sprintf(`SELECT DISTINCT tag FROM %s WHERE schedule > $1 AND schedule <= $2`, ident),
	}
}
