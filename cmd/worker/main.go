// Command worker is the export backend. It serves the jobs API, consumes
// export requests from Kafka, evaluates them against the local source
// catalog, and stores artifacts in MinIO.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/cache"
	httpadapter "github.com/couchcryptid/snow-forcing-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/snow-forcing-etl/internal/adapter/kafka"
	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/memory"
	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/minio"
	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/postgres"
	"github.com/couchcryptid/snow-forcing-etl/internal/config"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open job store", "store", cfg.JobStore, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	objects, err := minio.NewStore(cfg.MinIO)
	if err != nil {
		logger.Error("failed to create artifact store", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Error("failed to ensure artifact bucket", "bucket", cfg.MinIO.Bucket, "error", err)
		os.Exit(1)
	}

	requests := kafkaadapter.NewRequestWriter(cfg, logger)
	reader := kafkaadapter.NewReader(cfg, logger)
	events := kafkaadapter.NewEventWriter(cfg, logger)

	catalog := cache.NewCatalog(netcdf.NewCatalog(cfg.SourceRoot, logger), cfg.CatalogCacheSize, metrics)
	logger.Info("source catalog", "root", cfg.SourceRoot, "cache_size", cfg.CatalogCacheSize)

	svc := worker.NewService(store, requests, logger, metrics)
	runner := worker.NewRunner(worker.RunnerConfig{
		Reader:      reader,
		Store:       store,
		Evaluator:   pipeline.NewEvaluator(catalog, logger),
		Encoder:     netcdf.Encoder{},
		Objects:     objects,
		Events:      events,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
	}, svc, logger, metrics)

	ready := readiness{runner, objects}
	if rc, ok := store.(readinessChecker); ok {
		ready = append(ready, rc)
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start export runner.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil {
			logger.Error("runner error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("runner did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := requests.Close(); err != nil {
		logger.Error("kafka request writer close error", "error", err)
	}
	if err := events.Close(); err != nil {
		logger.Error("kafka event writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openJobStore returns the configured job store and its close hook.
func openJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (worker.JobStore, func(), error) {
	if cfg.JobStore != config.JobStorePostgres {
		logger.Info("job store", "store", config.JobStoreMemory)
		return memory.NewJobStore(), func() {}, nil
	}

	db, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewJobStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("job store", "store", config.JobStorePostgres)
	return store, func() {
		if err := db.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}, nil
}
