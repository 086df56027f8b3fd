// Command enjin-ingest runs the OSINT ingestion service. Subcommands:
//
//	worker     consume fetch and sweep jobs from the stream
//	scheduler  enqueue jobs on the periodic UTC schedule
//	run-once   fetch one adapter and sweep synchronously, then exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
	"github.com/enjin-dev/enjin-ingest/engine/geocode"
	"github.com/enjin-dev/enjin-ingest/engine/graph"
	"github.com/enjin-dev/enjin-ingest/engine/ingest"
	"github.com/enjin-dev/enjin-ingest/engine/rawstore"
	"github.com/enjin-dev/enjin-ingest/engine/tagger"
	"github.com/enjin-dev/enjin-ingest/pkg/config"
	"github.com/enjin-dev/enjin-ingest/pkg/dispatch"
	"github.com/enjin-dev/enjin-ingest/pkg/fn"
	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
	"github.com/enjin-dev/enjin-ingest/pkg/sched"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	var err error
	switch os.Args[1] {
	case "worker":
		err = runWorker(ctx, cfg, log)
	case "scheduler":
		err = runScheduler(ctx, cfg, log)
	case "run-once":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "run-once needs an adapter name:", adapter.Names())
			os.Exit(2)
		}
		err = runOnce(ctx, cfg, log, os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: enjin-ingest <worker|scheduler|run-once> [adapter]")
}

// engine bundles the wired processing stack shared by worker and
// run-once modes.
type engine struct {
	store    *rawstore.Postgres
	driver   neo4j.DriverWithContext
	pipeline *ingest.Pipeline
	metrics  *metrics.Set
}

func buildEngine(ctx context.Context, cfg config.Settings, log *slog.Logger) (*engine, error) {
	met := metrics.New()

	store, err := rawstore.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		store.Close()
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Store: store,
		Tagger: tagger.NewHTTP(tagger.HTTPConfig{
			URL:    cfg.NERURL,
			Model:  cfg.SpacyModel,
			Logger: log,
		}),
		Geocoder: geocode.NewNominatim(geocode.Config{
			BaseURL:   cfg.GeocoderURL,
			UserAgent: cfg.GeocoderUserAgent,
			MinDelay:  cfg.GeocoderRateLimit,
			Logger:    log,
			Metrics:   met,
		}),
		Graph:     graph.NewWriter(graph.WriterConfig{Driver: driver, Logger: log, Metrics: met}),
		Logger:    log,
		Metrics:   met,
		BatchSize: cfg.SweepBatchSize,
	})

	return &engine{store: store, driver: driver, pipeline: pipeline, metrics: met}, nil
}

func (e *engine) close(ctx context.Context) {
	e.store.Close()
	e.driver.Close(ctx)
}

func runWorker(ctx context.Context, cfg config.Settings, log *slog.Logger) error {
	eng, err := buildEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer eng.close(context.Background())

	client, err := dispatch.Connect(cfg.NATSURL, log)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.ProvisionStream(); err != nil {
		return err
	}

	metricsSrv := eng.metrics.Serve(cfg.MetricsAddr)
	defer metricsSrv.Close()

	worker := dispatch.NewWorker(client, dispatch.WorkerConfig{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      log,
		Metrics:     eng.metrics,
	})
	handlers := &dispatch.Handlers{
		Store:    eng.store,
		Sweeper:  eng.pipeline,
		Settings: cfg,
		Logger:   log,
		Metrics:  eng.metrics,
	}
	handlers.Register(worker)

	if err := worker.Start(); err != nil {
		return err
	}
	log.Info("worker running", "concurrency", cfg.WorkerConcurrency, "metrics", cfg.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	worker.Drain()
	return nil
}

func runScheduler(ctx context.Context, cfg config.Settings, log *slog.Logger) error {
	client, err := dispatch.Connect(cfg.NATSURL, log)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.ProvisionStream(); err != nil {
		return err
	}

	scheduler, err := sched.New(sched.Config{
		Enqueuer: dispatch.NewPublisher(client, log),
		Adapters: sched.FetchAdapters(cfg),
		Logger:   log,
	})
	if err != nil {
		return err
	}
	scheduler.Start()

	<-ctx.Done()
	log.Info("shutting down")
	scheduler.Stop()
	return nil
}

// runOnce fetches one adapter with retries, then runs a single sweep.
// Useful for backfills and local debugging without a broker.
func runOnce(ctx context.Context, cfg config.Settings, log *slog.Logger, name string) error {
	eng, err := buildEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer eng.close(context.Background())

	src, err := adapter.New(name, cfg)
	if err != nil {
		return err
	}

	items, err := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[[]adapter.RawItem] {
		return fn.FromPair(src.Fetch(ctx))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}

	inserted := 0
	for _, item := range items {
		fresh, err := eng.store.Upsert(ctx, item)
		if err != nil {
			return err
		}
		if fresh {
			inserted++
		}
	}
	log.Info("fetch finished", "adapter", name, "fetched", len(items), "inserted", inserted)

	res, err := eng.pipeline.Sweep(ctx)
	if err != nil {
		return err
	}
	log.Info("run-once complete", "processed", res.Processed, "errors", res.Errors)
	return nil
}
