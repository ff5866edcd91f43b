package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

var ErrFailedToApplyMigrations = errors.New("failed to apply migrations")

// versionTable keeps goose's bookkeeping next to the queue table, so
// several queues can share a database.
func (p *PostgresStore) versionTable() string {
	return p.table + "_schema_migrations"
}

// withProvider bridges the pool to database/sql for goose and runs fn.
func (p *PostgresStore) withProvider(ctx context.Context, fn func(*goose.Provider) error) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			p.log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}(db)

	versions, err := database.NewStore(database.DialectPostgres, p.versionTable())
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(versions),
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(
			goose.NewGoMigration(1,
				&goose.GoFunc{RunTx: p.upCreateTable},
				&goose.GoFunc{RunTx: p.downDropTable},
			),
		),
	)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return fn(provider)
}

// CreateTable creates the queue table and its indexes if needed.
func (p *PostgresStore) CreateTable(ctx context.Context) error {
	return p.withProvider(ctx, func(provider *goose.Provider) error {
		results, err := provider.Up(ctx)
		if err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		for _, r := range results {
			p.log.InfoContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
		}
		return nil
	})
}

// DropTable removes the queue table and its migration history.
func (p *PostgresStore) DropTable(ctx context.Context) error {
	err := p.withProvider(ctx, func(provider *goose.Provider) error {
		if _, err := provider.DownTo(ctx, 0); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{p.versionTable()}.Sanitize()))
	return err
}

// ResetTable drops and recreates the queue table.
func (p *PostgresStore) ResetTable(ctx context.Context) error {
	if err := p.DropTable(ctx); err != nil {
		return err
	}
	return p.CreateTable(ctx)
}
