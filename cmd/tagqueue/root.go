package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aridsondez/tagqueue/internal/app"
	"github.com/aridsondez/tagqueue/internal/config"
	"github.com/aridsondez/tagqueue/internal/queue"
)

// tables manages the queue table.
type tables interface {
	CreateTable(ctx context.Context) error
	DropTable(ctx context.Context) error
	ResetTable(ctx context.Context) error
}

type backend struct {
	queue  *queue.Queue
	tables tables
	close  func()
}

type rootFlags struct {
	databaseURL string
	table       string
	logLevel    string
}

type openFunc func(ctx context.Context, flags *rootFlags) (*backend, error)

// openApp loads the environment, applies flag overrides and connects.
func openApp(ctx context.Context, flags *rootFlags) (*backend, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	if flags.databaseURL != "" {
		cfg.DatabaseURL = flags.databaseURL
	}
	if flags.table != "" {
		cfg.Table = flags.table
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	// stderr text output unless asked otherwise
	if cfg.LogFormat == "json" {
		cfg.LogFormat = "text"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &backend{queue: a.Queue, tables: a.Store, close: a.Close}, nil
}

func newRootCommand(open openFunc) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "tagqueue",
		Short:        "Operate a tagged Postgres work queue",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.databaseURL, "database-url", "", "Postgres URL (default $DATABASE_URL)")
	root.PersistentFlags().StringVar(&flags.table, "table", "", "Queue table (default $QUEUE_TABLE)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	// with runs fn against a freshly opened backend.
	with := func(cmd *cobra.Command, fn func(b *backend) error) error {
		b, err := open(cmd.Context(), flags)
		if err != nil {
			return err
		}
		defer b.close()
		return fn(b)
	}

	root.AddCommand(
		newMigrateCommand(with),
		newDropCommand(with),
		newEnqueueCommand(with),
		newDequeueCommand(with),
		newCancelCommand(with),
		newListCommand(with),
		newCountCommand(with),
		newListenCommand(with),
	)
	return root
}

type withFunc func(cmd *cobra.Command, fn func(b *backend) error) error

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
