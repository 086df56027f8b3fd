// Package metrics exposes Prometheus instrumentation for the ingestion
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the service's metric instruments on one registry.
type Set struct {
	registry *prometheus.Registry

	ItemsFetched   *prometheus.CounterVec
	ItemsInserted  *prometheus.CounterVec
	RowsProcessed  prometheus.Counter
	RowErrors      prometheus.Counter
	UnitsRetried   *prometheus.CounterVec
	GeocodeHits    prometheus.Counter
	GeocodeMisses  prometheus.Counter
	GeocodeLookups prometheus.Counter
	GraphWrites    prometheus.Counter
	SweepDuration  prometheus.Histogram
}

// New creates a metric set on a fresh registry with Go runtime collectors.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enjin_ingest_items_fetched_total",
			Help: "Raw items returned by adapter fetches.",
		}, []string{"adapter"}),
		ItemsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enjin_ingest_items_inserted_total",
			Help: "Raw items newly inserted into the raw store.",
		}, []string{"adapter"}),
		RowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_rows_processed_total",
			Help: "Raw rows successfully processed by sweeps.",
		}),
		RowErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_row_errors_total",
			Help: "Raw rows whose pipeline failed and were left for retry.",
		}),
		UnitsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enjin_ingest_units_retried_total",
			Help: "Work units negatively acknowledged for redelivery.",
		}, []string{"kind"}),
		GeocodeHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_geocode_cache_hits_total",
			Help: "Geocoder lookups answered from the in-process cache.",
		}),
		GeocodeMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_geocode_cache_misses_total",
			Help: "Geocoder lookups that required an external request.",
		}),
		GeocodeLookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_geocode_lookups_total",
			Help: "Total geocoder lookups.",
		}),
		GraphWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "enjin_ingest_graph_writes_total",
			Help: "Per-document graph write transactions committed.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "enjin_ingest_sweep_duration_seconds",
			Help:    "Wall-clock duration of processing sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the /metrics HTTP handler for this set.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in a background goroutine.
func (s *Set) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
