package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aridsondez/tagqueue/internal/api"
	"github.com/aridsondez/tagqueue/internal/app"
	"github.com/aridsondez/tagqueue/internal/config"
	"github.com/aridsondez/tagqueue/internal/queue/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.CreateTable(ctx); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := api.NewServer(addr, a.Queue,
		api.WithHealthcheck(a.Healthcheck),
		api.WithLogger(log),
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.SchedulerInterval > 0 {
		sch := scheduler.New(a.Store, a.Publisher(), cfg.SchedulerInterval, log)
		g.Go(func() error {
			sch.Start(ctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", addr, "table", cfg.Table)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
