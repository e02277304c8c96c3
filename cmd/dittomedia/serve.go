package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run background maintenance and the metrics endpoint",
		Long: `Serve opens the catalog and the storage registry, starts the configured
maintenance scheduler (in-process ticker or asynq) and, when enabled, the
Prometheus metrics endpoint. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("DittoMedia - Deduplicating media storage")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	m := config.InitializeMetrics(cfg)

	rt, err := config.Build(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	// Metrics server runs until ctx is cancelled
	metricsDone := make(chan error, 1)
	if m.Server != nil {
		go func() {
			metricsDone <- m.Server.Start(ctx)
		}()
	} else {
		logger.Info("Metrics disabled")
	}

	stopMaintenance, err := rt.StartMaintenance()
	if err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	logger.Info("DittoMedia is running. Press Ctrl+C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case serveErr = <-metricsDone:
		logger.Error("Metrics server error: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := stopMaintenance(shutdownCtx); err != nil {
		logger.Error("Maintenance shutdown error: %v", err)
		serveErr = errors.Join(serveErr, err)
	}
	if m.Server != nil {
		if err := m.Server.Stop(shutdownCtx); err != nil {
			serveErr = errors.Join(serveErr, err)
		}
	}

	if serveErr == nil {
		logger.Info("DittoMedia stopped gracefully")
	}
	return serveErr
}
