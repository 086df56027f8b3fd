package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
	"github.com/enjin-dev/enjin-ingest/engine/geocode"
	"github.com/enjin-dev/enjin-ingest/engine/graph"
	"github.com/enjin-dev/enjin-ingest/engine/rawstore"
	"github.com/enjin-dev/enjin-ingest/engine/tagger"
)

type fakeTagger struct {
	byText map[string][]tagger.Entity
	err    error
	calls  int
}

func (f *fakeTagger) Tag(_ context.Context, text string) ([]tagger.Entity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for needle, entities := range f.byText {
		if strings.Contains(text, needle) {
			return entities, nil
		}
	}
	return nil, nil
}

type fakeGeocoder struct {
	places map[string]*geocode.Result
	calls  []string
}

func (f *fakeGeocoder) Lookup(_ context.Context, name string) (*geocode.Result, error) {
	f.calls = append(f.calls, name)
	return f.places[name], nil
}

type graphCall struct {
	doc      graph.Document
	entities []tagger.Entity
	geo      map[string]*geocode.Result
}

type fakeGraph struct {
	calls  []graphCall
	failOn string
}

func (f *fakeGraph) Write(_ context.Context, doc graph.Document, entities []tagger.Entity, geo map[string]*geocode.Result) error {
	if f.failOn != "" && doc.ExternalID == f.failOn {
		return errors.New("neo4j unavailable")
	}
	f.calls = append(f.calls, graphCall{doc: doc, entities: entities, geo: geo})
	return nil
}

func seed(t *testing.T, store *rawstore.Memory, items ...adapter.RawItem) {
	t.Helper()
	for _, it := range items {
		if _, err := store.Upsert(context.Background(), it); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepProcessesBatch(t *testing.T) {
	store := rawstore.NewMemory()
	seed(t, store,
		adapter.RawItem{SourceAdapter: "rss", ExternalID: "a", Title: "NATO summit"},
		adapter.RawItem{SourceAdapter: "rss", ExternalID: "b", Title: "Quiet day"},
	)

	tg := &fakeTagger{byText: map[string][]tagger.Entity{
		"NATO": {{Name: "nato", Kind: tagger.KindOrganization, Occurrences: 1}},
	}}
	gw := &fakeGraph{}
	p := NewPipeline(PipelineConfig{
		Store: store, Tagger: tg, Geocoder: &fakeGeocoder{}, Graph: gw,
	})

	res, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Errors != 0 {
		t.Fatalf("result: %+v", res)
	}

	// Only the row with entities reaches the graph.
	if len(gw.calls) != 1 || gw.calls[0].doc.ExternalID != "a" {
		t.Fatalf("graph calls: %+v", gw.calls)
	}
	if gw.calls[0].entities[0].Name != "Nato" {
		t.Fatalf("entity names must be canonicalised, got %q", gw.calls[0].entities[0].Name)
	}

	// Both rows are marked processed, including the entity-free one.
	left, _ := store.SelectUnprocessed(context.Background(), 10)
	if len(left) != 0 {
		t.Fatalf("unprocessed rows remain: %+v", left)
	}
}

func TestSweepFailedRowLeftForRetry(t *testing.T) {
	store := rawstore.NewMemory()
	seed(t, store,
		adapter.RawItem{ExternalID: "a", Title: "NATO one"},
		adapter.RawItem{ExternalID: "b", Title: "NATO two"},
		adapter.RawItem{ExternalID: "c", Title: "NATO three"},
	)

	tg := &fakeTagger{byText: map[string][]tagger.Entity{
		"NATO": {{Name: "NATO", Kind: tagger.KindOrganization, Occurrences: 1}},
	}}
	gw := &fakeGraph{failOn: "b"}
	p := NewPipeline(PipelineConfig{
		Store: store, Tagger: tg, Geocoder: &fakeGeocoder{}, Graph: gw,
	})

	res, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Errors != 1 {
		t.Fatalf("result: %+v", res)
	}

	left, _ := store.SelectUnprocessed(context.Background(), 10)
	if len(left) != 1 || left[0].Item.ExternalID != "b" {
		t.Fatalf("failed row must stay unprocessed: %+v", left)
	}
}

func TestProcessGeocodesOnlyLocations(t *testing.T) {
	store := rawstore.NewMemory()
	seed(t, store, adapter.RawItem{ExternalID: "a", Title: "Copenhagen hosts NATO"})

	tg := &fakeTagger{byText: map[string][]tagger.Entity{
		"Copenhagen": {
			{Name: "Copenhagen", Kind: tagger.KindLocation, Occurrences: 1},
			{Name: "NATO", Kind: tagger.KindOrganization, Occurrences: 1},
		},
	}}
	geo := &fakeGeocoder{places: map[string]*geocode.Result{
		"Copenhagen": {Lat: 55.6761, Lon: 12.5683},
	}}
	gw := &fakeGraph{}
	p := NewPipeline(PipelineConfig{Store: store, Tagger: tg, Geocoder: geo, Graph: gw})

	rows, _ := store.SelectUnprocessed(context.Background(), 1)
	if err := p.Process(context.Background(), rows[0]); err != nil {
		t.Fatal(err)
	}

	if len(geo.calls) != 1 || geo.calls[0] != "Copenhagen" {
		t.Fatalf("geocoder calls: %v", geo.calls)
	}
	if gw.calls[0].geo["Copenhagen"] == nil {
		t.Fatalf("geo map: %+v", gw.calls[0].geo)
	}
	if gw.calls[0].geo["Nato"] != nil {
		t.Fatal("organizations must not be geocoded")
	}
}

func TestProcessTaggerErrorLeavesRowUnmarked(t *testing.T) {
	store := rawstore.NewMemory()
	seed(t, store, adapter.RawItem{ExternalID: "a", Title: "anything"})

	tg := &fakeTagger{err: errors.New("sidecar down")}
	p := NewPipeline(PipelineConfig{Store: store, Tagger: tg, Geocoder: &fakeGeocoder{}, Graph: &fakeGraph{}})

	rows, _ := store.SelectUnprocessed(context.Background(), 1)
	if err := p.Process(context.Background(), rows[0]); err == nil {
		t.Fatal("expected error")
	}
	left, _ := store.SelectUnprocessed(context.Background(), 1)
	if len(left) != 1 {
		t.Fatal("row must remain unprocessed after tagger failure")
	}
}

func TestSweepHonoursBatchSize(t *testing.T) {
	store := rawstore.NewMemory()
	for _, id := range []string{"a", "b", "c", "d"} {
		seed(t, store, adapter.RawItem{ExternalID: id, Title: "Quiet"})
	}

	p := NewPipeline(PipelineConfig{
		Store: store, Tagger: &fakeTagger{}, Geocoder: &fakeGeocoder{}, Graph: &fakeGraph{},
		BatchSize: 3,
	})
	res, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 {
		t.Fatalf("batch size not honoured: %+v", res)
	}
}

func TestSweepEmptyBatch(t *testing.T) {
	tg := &fakeTagger{}
	geo := &fakeGeocoder{}
	gw := &fakeGraph{}
	p := NewPipeline(PipelineConfig{Store: rawstore.NewMemory(), Tagger: tg, Geocoder: geo, Graph: gw})

	res, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res != (SweepResult{}) {
		t.Fatalf("empty batch: %+v", res)
	}
	if tg.calls != 0 || len(geo.calls) != 0 || len(gw.calls) != 0 {
		t.Fatal("collaborators must not be touched for an empty batch")
	}
}

func TestDocumentText(t *testing.T) {
	got := documentText("Title", "", "  ", "Body text")
	if got != "Title Body text" {
		t.Fatalf("documentText: %q", got)
	}
}
