// Command etl runs the BAAC accident enrichment pipeline: it joins the
// yearly accident CSV publications on their accident key, enriches each
// record with historical weather and road-infrastructure context, and
// delivers the resulting documents to the configured sink in batches.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mpicard/baac-enrich/internal/adapter/elastic"
	kafkaadapter "github.com/mpicard/baac-enrich/internal/adapter/kafka"
	"github.com/mpicard/baac-enrich/internal/adapter/meteo"
	"github.com/mpicard/baac-enrich/internal/adapter/ops"
	"github.com/mpicard/baac-enrich/internal/adapter/overpass"
	"github.com/mpicard/baac-enrich/internal/cache"
	"github.com/mpicard/baac-enrich/internal/config"
	"github.com/mpicard/baac-enrich/internal/delivery"
	"github.com/mpicard/baac-enrich/internal/enrich"
	"github.com/mpicard/baac-enrich/internal/join"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/pipeline"
	"github.com/mpicard/baac-enrich/internal/ratelimit"
	"github.com/mpicard/baac-enrich/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()
	runID := uuid.NewString()

	logger.Info("starting run", "run_id", runID, "data_dir", cfg.DataDir, "sink", cfg.SinkKind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newCacheStore(ctx, cfg, clock, logger)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	meteoClient := meteo.NewClient(cfg.MeteoURL, ratelimit.New(ratelimit.Config{
		Name:        "open-meteo",
		MinInterval: cfg.MeteoInterval,
		MaxAttempts: cfg.MeteoMaxAttempts,
		CallTimeout: cfg.MeteoTimeout,
	}, clock, logger), cfg.MeteoTimeout, metrics, logger)

	overpassClient := overpass.NewClient(cfg.OverpassURL, ratelimit.New(ratelimit.Config{
		Name:        "overpass",
		MinInterval: cfg.OverpassInterval,
		MaxAttempts: cfg.OverpassMaxAttempts,
		CallTimeout: cfg.OverpassTimeout,
	}, clock, logger), cfg.OverpassTimeout, metrics, logger)

	sink, closeSink, err := newSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer closeSink()

	batcher := delivery.New(sink, delivery.Config{
		BatchSize:   cfg.BatchSize,
		OverflowDir: cfg.OverflowDir,
		RunID:       runID,
	}, clock, metrics, logger)

	loader := source.NewLoader(cfg.DataDir, cfg.SampleSize, metrics, logger)
	joiner := join.New(metrics, logger)
	enricher := enrich.New(store, meteoClient, overpassClient, cfg.OverpassRadius, metrics, logger)

	p := pipeline.New(loader, joiner, enricher, batcher, cfg.Jobs, logger, metrics)

	srv := ops.NewServer(cfg.HTTPAddr, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", "error", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		return err
	}
	logger.Info("run complete", "run_id", runID)
	return nil
}

// newCacheStore builds the configured cache backend. The file store is the
// durable default; its on-disk entries are what make a rerun skip the
// external calls of a previous run.
func newCacheStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		logger.Info("using redis cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, clock)
	case config.CacheMemory:
		logger.Warn("using in-memory cache: lookups will not survive this run")
		return cache.NewMemoryStore(0), nil
	default:
		logger.Info("using file cache", "dir", cfg.CacheDir)
		return cache.NewFileStore(cfg.CacheDir, clock)
	}
}

func newSink(cfg *config.Config, logger *slog.Logger) (delivery.Sink, func(), error) {
	switch cfg.SinkKind {
	case config.SinkKafka:
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		return w, func() {
			if err := w.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}, nil
	case config.SinkElasticsearch:
		return elastic.NewSink(cfg.ElasticURL, cfg.ElasticIndex, 30*time.Second, logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.SinkKind)
	}
}
