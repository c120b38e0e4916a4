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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/vstepro/internal/app"
	"github.com/eugener/vstepro/internal/auth"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/config"
	"github.com/eugener/vstepro/internal/server"
	"github.com/eugener/vstepro/internal/storage/sqlite"
	"github.com/eugener/vstepro/internal/telemetry"
	"github.com/eugener/vstepro/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log))

	slog.Info("starting vstepro", "version", version, "addr", cfg.Server.Addr)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}
	adminKey, err := config.EnsureAdminKey(ctx, store)
	if err != nil {
		return err
	}
	if adminKey != "" {
		slog.Warn("no API keys found, created bootstrap admin key", "prefix", adminKey[:12])
		fmt.Fprintf(os.Stderr, "admin key (shown once): %s\n", adminKey)
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Cache
	c, err := newCache(cfg.Cache)
	if err != nil {
		return err
	}

	// Wire services
	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}
	catalog := app.NewCatalog(store, c, metrics)
	deps := server.Deps{
		Auth:           apiKeyAuth,
		Catalog:        catalog,
		Practice:       app.NewPractice(store, catalog, c, metrics),
		Stats:          app.NewStats(store, c),
		Keys:           app.NewKeyManager(store, apiKeyAuth),
		ResponseTTL:    cfg.Cache.ResponseTTL,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	}
	if cfg.Cache.Enabled {
		deps.Cache = c
	}

	// Background workers
	runner := worker.NewRunner(
		worker.NewCacheSweeper(c, cfg.Cache.SweepInterval, nil, metrics),
	)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(ctx)
	}()

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("vstepro ready", "addr", cfg.Server.Addr, "cache_backend", cfg.Cache.Backend, "cache_enabled", cfg.Cache.Enabled)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	stop()

	slog.Info("vstepro stopped")
	return nil
}

// sweepableCache is a cache backend the sweeper can reclaim.
type sweepableCache interface {
	cache.Cache
	worker.Sweepable
}

func newCache(cfg config.CacheConfig) (sweepableCache, error) {
	if cfg.Backend == config.CacheBackendMemory {
		return cache.NewMemory(cfg.MaxSize, cfg.DefaultTTL)
	}
	return cache.NewStore(cache.StoreOptions{DefaultTTL: cfg.DefaultTTL, Coalesce: cfg.Coalesce}), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
