package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete blobs and scratch chunks no node or upload references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, cfg *config.Config, rt *config.Runtime) error {
				collector := rt.Collector
				if dryRun && !cfg.GC.DryRun {
					var err error
					collector, err = gc.NewCollector(rt.Metadata, rt.Content, rt.Scratch, gc.Config{DryRun: true}, nil)
					if err != nil {
						return err
					}
				}

				stats, err := collector.RunNow(ctx)
				if err != nil {
					return err
				}
				fmt.Println(stats.Summary())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report orphans")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Abandon uploads that have not completed in time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, cfg *config.Config, rt *config.Runtime) error {
				age := olderThan
				if age == 0 {
					age = cfg.Uploads.StaleAfter
				}
				n, err := rt.Uploads.Sweep(ctx, age)
				if err != nil {
					return err
				}
				fmt.Printf("Abandoned %d uploads older than %s\n", n, age)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default: uploads.stale_after)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics endpoint, the orphan collector and the upload sweeper",
		Long: `Run the long-lived background services until interrupted:

  - the Prometheus /metrics and /healthz endpoint (metrics.enabled)
  - the periodic orphan collector (gc.enabled)
  - the stale upload sweeper, every uploads.stale_after / 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, serve)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, rt *config.Runtime) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverDone := make(chan error, 1)
	if rt.Metrics.Server != nil {
		go func() {
			serverDone <- rt.Metrics.Server.Start(ctx)
		}()
	}

	rt.Collector.Start()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepLoop(ctx, rt, cfg.Uploads.StaleAfter)
	}()

	logger.Info("DittoDrive is running. Press Ctrl+C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case serveErr = <-serverDone:
		logger.Error("Metrics server error: %v", serveErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := rt.Collector.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if rt.Metrics.Server != nil {
		if err := rt.Metrics.Server.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	select {
	case <-sweepDone:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("upload sweeper did not stop: %w", shutdownCtx.Err()))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("DittoDrive stopped gracefully")
	return nil
}

func sweepLoop(ctx context.Context, rt *config.Runtime, staleAfter time.Duration) {
	ticker := time.NewTicker(max(staleAfter/4, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.Uploads.Sweep(ctx, staleAfter)
			if err != nil {
				logger.Warn("Upload sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Info("Abandoned %d stale uploads", n)
			}
		}
	}
}
