package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
	"github.com/enjin-dev/enjin-ingest/engine/ingest"
	"github.com/enjin-dev/enjin-ingest/engine/rawstore"
	"github.com/enjin-dev/enjin-ingest/pkg/config"
	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
)

// Sweeper is the slice of ingest.Pipeline the sweep handler needs.
type Sweeper interface {
	Sweep(ctx context.Context) (ingest.SweepResult, error)
}

// Handlers binds job kinds to the ingestion engine.
type Handlers struct {
	Store    rawstore.Store
	Sweeper  Sweeper
	Settings config.Settings
	Logger   *slog.Logger
	Metrics  *metrics.Set
}

// Register attaches both handlers to a worker.
func (h *Handlers) Register(w *Worker) {
	w.Handle(KindFetch, h.Fetch)
	w.Handle(KindSweep, h.Sweep)
}

func (h *Handlers) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Fetch pulls one adapter and upserts everything it returns. An upsert
// failure fails the whole unit; re-running it is safe because upserts
// are idempotent.
func (h *Handlers) Fetch(ctx context.Context, job Job) error {
	src, err := adapter.New(job.Adapter, h.Settings)
	if err != nil {
		return err
	}

	items, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", job.Adapter, err)
	}
	if h.Metrics != nil {
		h.Metrics.ItemsFetched.WithLabelValues(job.Adapter).Add(float64(len(items)))
	}

	inserted := 0
	for _, item := range items {
		fresh, err := h.Store.Upsert(ctx, item)
		if err != nil {
			return fmt.Errorf("store %s item %s: %w", job.Adapter, item.ExternalID, err)
		}
		if fresh {
			inserted++
		}
	}
	if h.Metrics != nil {
		h.Metrics.ItemsInserted.WithLabelValues(job.Adapter).Add(float64(inserted))
	}

	h.log().Info("fetch finished",
		"adapter", job.Adapter, "fetched", len(items), "inserted", inserted)
	return nil
}

// Sweep runs one processing sweep.
func (h *Handlers) Sweep(ctx context.Context, _ Job) error {
	_, err := h.Sweeper.Sweep(ctx)
	return err
}
