package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/service"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingester, persistence and HTTP API",
		Long: `Connect to the AIS stream and serve the query API until SIGINT or SIGTERM.

On shutdown the stream is closed first, pending updates are flushed to
storage and the storage backend is closed.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "HTTP listen address, overrides http.addr")
	cmd.Flags().String("storage", "", "Storage backend, overrides storage.backend")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("Starting shipstream",
		"build_time", BuildTime,
		"storage", cfg.Storage.Backend,
		"http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, service.WithLogger(logger))
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return err
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service failed", "error", err)
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
