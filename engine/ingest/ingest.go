// Package ingest drives the processing sweep that turns stored raw
// items into graph writes.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/enjin-dev/enjin-ingest/engine/geocode"
	"github.com/enjin-dev/enjin-ingest/engine/graph"
	"github.com/enjin-dev/enjin-ingest/engine/normalize"
	"github.com/enjin-dev/enjin-ingest/engine/rawstore"
	"github.com/enjin-dev/enjin-ingest/engine/tagger"
	"github.com/enjin-dev/enjin-ingest/pkg/fn"
	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
)

// GraphWriter is the slice of graph.Writer the pipeline needs.
type GraphWriter interface {
	Write(ctx context.Context, doc graph.Document, entities []tagger.Entity, geo map[string]*geocode.Result) error
}

// Pipeline processes raw rows end to end.
type Pipeline struct {
	store     rawstore.Store
	tagger    tagger.Tagger
	geocoder  geocode.Geocoder
	graph     GraphWriter
	log       *slog.Logger
	metrics   *metrics.Set
	batchSize int
	threshold float64
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Store     rawstore.Store
	Tagger    tagger.Tagger
	Geocoder  geocode.Geocoder
	Graph     GraphWriter
	Logger    *slog.Logger
	Metrics   *metrics.Set
	BatchSize int     // rows per sweep, defaults to 200
	Threshold float64 // fuzzy merge threshold, defaults to normalize.SimilarityThreshold
}

// NewPipeline builds a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = normalize.SimilarityThreshold
	}
	return &Pipeline{
		store:     cfg.Store,
		tagger:    cfg.Tagger,
		geocoder:  cfg.Geocoder,
		graph:     cfg.Graph,
		log:       log,
		metrics:   cfg.Metrics,
		batchSize: batch,
		threshold: threshold,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Sweep loads a batch of unprocessed rows and runs each through the
// pipeline. A failing row is logged and left unmarked for the next
// sweep; it never aborts the batch.
func (p *Pipeline) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()

	rows, err := p.store.SelectUnprocessed(ctx, p.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("ingest: load batch: %w", err)
	}

	var res SweepResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.Process(ctx, row); err != nil {
			res.Errors++
			if p.metrics != nil {
				p.metrics.RowErrors.Inc()
			}
			p.log.Error("row processing failed",
				"row", row.ID, "external_id", row.Item.ExternalID, "error", err)
			continue
		}
		res.Processed++
		if p.metrics != nil {
			p.metrics.RowsProcessed.Inc()
		}
	}

	if p.metrics != nil {
		p.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	p.log.Info("sweep finished",
		"rows", len(rows), "processed", res.Processed, "errors", res.Errors,
		"elapsed", time.Since(start))
	return res, nil
}

// enriched carries a row and its entities between stages.
type enriched struct {
	row      rawstore.Row
	entities []tagger.Entity
	geo      map[string]*geocode.Result
}

// Process runs one row through tag, resolve, geocode and graph write,
// then marks it processed. Rows with no recognised entities are marked
// processed without touching the graph.
func (p *Pipeline) Process(ctx context.Context, row rawstore.Row) error {
	stages := fn.Then(
		fn.Then(
			fn.Then(
				fn.TracedStage("ingest.tag", p.tagStage()),
				fn.MapStage(p.resolveEntities),
			),
			fn.TapStage(func(_ context.Context, e enriched) {
				p.log.Debug("entities resolved",
					"external_id", e.row.Item.ExternalID, "entities", len(e.entities))
			}),
		),
		fn.Then(
			fn.TracedStage("ingest.geocode", p.geocodeStage()),
			fn.TracedStage("ingest.graph", p.writeStage()),
		),
	)

	if _, err := stages(ctx, row).Unwrap(); err != nil {
		return err
	}
	if err := p.store.MarkProcessed(ctx, row.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (p *Pipeline) tagStage() fn.Stage[rawstore.Row, enriched] {
	return func(ctx context.Context, row rawstore.Row) fn.Result[enriched] {
		text := documentText(row.Item.Title, row.Item.Summary, row.Item.Content)
		entities, err := p.tagger.Tag(ctx, text)
		if err != nil {
			return fn.Errf[enriched]("tag: %w", err)
		}
		return fn.Ok(enriched{row: row, entities: entities})
	}
}

func (p *Pipeline) resolveEntities(e enriched) enriched {
	e.entities = normalize.Resolve(e.entities, p.threshold)
	return e
}

func (p *Pipeline) geocodeStage() fn.Stage[enriched, enriched] {
	return func(ctx context.Context, e enriched) fn.Result[enriched] {
		locations := fn.Filter(e.entities, func(en tagger.Entity) bool {
			return en.Kind == tagger.KindLocation
		})
		for _, entity := range locations {
			res, err := p.geocoder.Lookup(ctx, entity.Name)
			if err != nil {
				return fn.Errf[enriched]("geocode %q: %w", entity.Name, err)
			}
			if res == nil {
				continue
			}
			if e.geo == nil {
				e.geo = make(map[string]*geocode.Result)
			}
			e.geo[entity.Name] = res
		}
		return fn.Ok(e)
	}
}

func (p *Pipeline) writeStage() fn.Stage[enriched, enriched] {
	return func(ctx context.Context, e enriched) fn.Result[enriched] {
		if len(e.entities) == 0 {
			p.log.Debug("no entities recognised", "external_id", e.row.Item.ExternalID)
			return fn.Ok(e)
		}
		doc := graph.Document{
			ExternalID:  e.row.Item.ExternalID,
			Title:       e.row.Item.Title,
			SourceURL:   e.row.Item.SourceURL,
			Adapter:     e.row.Item.SourceAdapter,
			PublishedAt: e.row.Item.PublishedAt,
		}
		if err := p.graph.Write(ctx, doc, e.entities, e.geo); err != nil {
			return fn.Err[enriched](err)
		}
		return fn.Ok(e)
	}
}

// documentText concatenates the textual parts of an item for tagging.
func documentText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, " ")
}
