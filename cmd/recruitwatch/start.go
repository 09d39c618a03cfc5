package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/api"
	"github.com/amishk599/recruitwatch/internal/scheduler"
)

var noAPI bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler and HTTP API",
	Long:  "Runs discovery, dispatch and retry on their cron schedules and serves the HTTP API; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVar(&noAPI, "no-api", false, "run the scheduler without the HTTP API")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	logger.Info("config loaded",
		"app_env", cfg.AppEnv,
		"sources", cfg.Sources.Enabled,
		"email_mode", cfg.Email.Mode,
		"store", storeKind(cfg.Store.DSN),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx, cfg, logger)
	defer a.Close()

	cr := scheduler.NewCron(a.trigger, scheduler.Specs{
		Discovery:  cfg.Schedule.Discovery,
		Dispatch:   cfg.Schedule.Dispatch,
		Retry:      cfg.Schedule.Retry,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cr.Run(gctx) })
	if !noAPI && cfg.API.Listen != "" {
		if cfg.API.HashedAPIKey == "" {
			logger.Warn("HASHED_API_KEY is not set, POST /scrapers will answer 500")
		}
		srv := api.NewServer(a.trigger, a.store, adapter.IsKnown, cfg.API.HashedAPIKey, logger)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Listen) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		a.Close()
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}

func storeKind(dsn string) string {
	if strings.HasPrefix(dsn, "postgres") {
		return "postgres"
	}
	return "sqlite"
}
