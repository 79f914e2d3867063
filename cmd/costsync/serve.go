package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zgpcy/oci-cost-sync/internal/collector"
	"github.com/zgpcy/oci-cost-sync/internal/server"
)

const (
	// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP operations surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	registry := prometheus.NewRegistry()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx, opts, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("Error closing connections", "error", err)
		}
	}()
	log := a.logger

	// Create state collector
	stateCollector := collector.NewStateCollector(a.store, 0, log)
	if err := registry.Register(stateCollector); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	log.Info("Collector registered with Prometheus")

	// Register Go runtime metrics (memory, goroutines, GC stats)
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		log.Warn("Failed to register Go collector", "error", err)
	}

	// Register process metrics (CPU, memory, file descriptors)
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		log.Warn("Failed to register process collector", "error", err)
	}

	a.scheduler.OnFinish(stateCollector.Observe)

	log.Info("Starting background state refresh")
	stateCollector.StartBackgroundRefresh(ctx)

	a.scheduler.Start(ctx)

	// Create and start HTTP server
	log.Info("Creating HTTP server", "port", a.cfg.HTTPPort)
	srv := server.NewServer(a.cfg, server.Dependencies{
		Costs:     a.costs,
		Resources: a.store,
		Jobs:      a.scheduler,
		Health:    stateCollector,
		Users:     a.users,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, log)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		cancel()
		a.scheduler.Stop()
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())

		// Cancel background refresh and running jobs
		cancel()
		a.scheduler.Stop()

		// Shutdown server with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}

		log.Info("Server stopped gracefully")
		return nil
	}
}
