// Package graph materialises processed documents and their entities
// into Neo4j.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/enjin-dev/enjin-ingest/engine/geocode"
	"github.com/enjin-dev/enjin-ingest/engine/tagger"
	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
)

// Document is the graph-side projection of one raw item.
type Document struct {
	ExternalID  string
	Title       string
	SourceURL   string
	Adapter     string
	PublishedAt *time.Time
}

// txRunner is the minimal interface needed from a neo4j transaction.
type txRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// managedTxRunner adapts neo4j.ManagedTransaction to txRunner.
type managedTxRunner struct {
	tx neo4j.ManagedTransaction
}

func (m managedTxRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := m.tx.Run(ctx, cypher, params)
	return err
}

// Writer applies documents to the graph. All statements for one
// document run in a single write transaction, so re-applying the same
// document converges instead of duplicating.
type Writer struct {
	driver  neo4j.DriverWithContext
	log     *slog.Logger
	metrics *metrics.Set
	now     func() time.Time

	execWrite func(ctx context.Context, work func(ctx context.Context, tx txRunner) error) error // for testing
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Driver  neo4j.DriverWithContext
	Logger  *slog.Logger
	Metrics *metrics.Set
}

// NewWriter builds a Writer on an open driver.
func NewWriter(cfg WriterConfig) *Writer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Writer{driver: cfg.Driver, log: log, metrics: cfg.Metrics, now: time.Now}
}

func (w *Writer) write(ctx context.Context, work func(ctx context.Context, tx txRunner) error) error {
	if w.execWrite != nil {
		return w.execWrite(ctx, work)
	}
	sess := w.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(ctx, managedTxRunner{tx: tx})
	})
	return err
}

// kindLabels maps entity kinds to node labels. Unknown kinds fall back
// to the generic Entity label.
var kindLabels = map[tagger.Kind]string{
	tagger.KindPerson:       "Person",
	tagger.KindOrganization: "Organization",
	tagger.KindLocation:     "Location",
}

func label(kind tagger.Kind) string {
	if l, ok := kindLabels[kind]; ok {
		return l
	}
	return "Entity"
}

const mergeDocumentCypher = `
MERGE (d:Document {external_id: $external_id})
SET d.title = $title,
    d.source_url = $source_url,
    d.source_adapter = $adapter,
    d.published_at = $published_at`

// Write upserts the document node, its entity nodes, MENTIONED_IN edges
// and pairwise CO_OCCURS edges in one transaction. geo may be nil or
// partial; entities without a geocode result are written without
// coordinates.
func (w *Writer) Write(ctx context.Context, doc Document, entities []tagger.Entity, geo map[string]*geocode.Result) error {
	if doc.ExternalID == "" {
		return fmt.Errorf("graph: document without external id")
	}

	err := w.write(ctx, func(ctx context.Context, tx txRunner) error {
		var publishedAt any
		if doc.PublishedAt != nil {
			publishedAt = doc.PublishedAt.UTC().Format(time.RFC3339)
		}
		if err := tx.Run(ctx, mergeDocumentCypher, map[string]any{
			"external_id":  doc.ExternalID,
			"title":        doc.Title,
			"source_url":   doc.SourceURL,
			"adapter":      doc.Adapter,
			"published_at": publishedAt,
		}); err != nil {
			return fmt.Errorf("merge document: %w", err)
		}

		for _, e := range entities {
			if err := w.mergeEntity(ctx, tx, e, geo[e.Name]); err != nil {
				return err
			}
			if err := w.mergeMention(ctx, tx, doc.ExternalID, e); err != nil {
				return err
			}
		}

		for _, p := range coOccurrencePairs(entities) {
			if err := w.mergeCoOccurrence(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("graph: write %s: %w", doc.ExternalID, err)
	}

	if w.metrics != nil {
		w.metrics.GraphWrites.Inc()
	}
	w.log.Debug("graph write committed", "document", doc.ExternalID, "entities", len(entities))
	return nil
}

func (w *Writer) mergeEntity(ctx context.Context, tx txRunner, e tagger.Entity, geo *geocode.Result) error {
	cypher := fmt.Sprintf(`
MERGE (e:%s {name: $name})
SET e.type = $type,
    e.occurrences = coalesce(e.occurrences, 0) + $count`, label(e.Kind))
	params := map[string]any{
		"name":  e.Name,
		"type":  string(e.Kind),
		"count": e.Occurrences,
	}
	if geo != nil {
		cypher += `,
    e.latitude = $latitude,
    e.longitude = $longitude,
    e.country = $country,
    e.region = $region,
    e.display_name = $display_name`
		params["latitude"] = geo.Lat
		params["longitude"] = geo.Lon
		params["country"] = geo.Country
		params["region"] = geo.Region
		params["display_name"] = geo.DisplayName
	}
	if err := tx.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("merge entity %q: %w", e.Name, err)
	}
	return nil
}

func (w *Writer) mergeMention(ctx context.Context, tx txRunner, externalID string, e tagger.Entity) error {
	cypher := fmt.Sprintf(`
MATCH (e:%s {name: $name}), (d:Document {external_id: $external_id})
MERGE (e)-[m:MENTIONED_IN]->(d)
SET m.occurrences = $count`, label(e.Kind))
	err := tx.Run(ctx, cypher, map[string]any{
		"name":        e.Name,
		"external_id": externalID,
		"count":       e.Occurrences,
	})
	if err != nil {
		return fmt.Errorf("merge mention %q: %w", e.Name, err)
	}
	return nil
}

// pair is one co-occurring entity pair in canonical orientation.
type pair struct {
	aName, bName   string
	aLabel, bLabel string
}

// coOccurrencePairs yields every unordered entity pair exactly once,
// oriented so that the (kind, name) lexicographic minimum is first.
// Orientation is stable across documents, keeping one edge per pair.
func coOccurrencePairs(entities []tagger.Entity) []pair {
	sorted := make([]tagger.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Name < sorted[j].Name
	})

	var out []pair
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			out = append(out, pair{
				aName:  sorted[i].Name,
				bName:  sorted[j].Name,
				aLabel: label(sorted[i].Kind),
				bLabel: label(sorted[j].Kind),
			})
		}
	}
	return out
}

func (w *Writer) mergeCoOccurrence(ctx context.Context, tx txRunner, p pair) error {
	cypher := fmt.Sprintf(`
MATCH (a:%s {name: $a}), (b:%s {name: $b})
MERGE (a)-[c:CO_OCCURS]->(b)
ON CREATE SET c.weight = 0
SET c.weight = c.weight + 1,
    c.last_seen = $now`, p.aLabel, p.bLabel)
	err := tx.Run(ctx, cypher, map[string]any{
		"a":   p.aName,
		"b":   p.bName,
		"now": w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("merge co-occurrence %q/%q: %w", p.aName, p.bName, err)
	}
	return nil
}
