package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/appgate/internal/observability"
	"github.com/pitabwire/appgate/internal/transport"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sidecar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *globalOptions) error {
	deps, err := loadRuntime(opts, nil)
	if err != nil {
		return err
	}
	logger := deps.logger
	defer logger.Sync()

	tracingShutdown, err := observability.InitTracing(ctx, deps.cfg.Observability.Tracing, "appgate", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(registry)
	for kind, n := range deps.catalog.CountByKind() {
		metrics.SetResourcesConfigured(kind, n)
	}

	client, err := deps.newClient(metrics)
	if err != nil {
		return err
	}

	cfg := deps.cfg
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.NewAuthenticator(cfg.Identity, logger),
		Catalog:      deps.catalog,
		Invoker:      client,
		Metrics:      metrics,
		Gatherer:     registry,
		Readiness: observability.ReadinessChecks{
			ResourcesLoaded: func() bool { return deps.catalog.Len() > 0 },
			Gateway:         observability.HTTPProbe{URL: client.BaseURL()},
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("gateway", client.BaseURL()),
		zap.Int("resources", deps.catalog.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
