// Package geocode resolves location names to coordinates via a
// Nominatim-compatible endpoint, with caching and rate limiting.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
	"github.com/enjin-dev/enjin-ingest/pkg/resilience"
)

// Result is a resolved place.
type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
}

// Geocoder resolves a place name. A nil result with a nil error means
// the name could not be resolved; callers proceed without coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, name string) (*Result, error)
}

const defaultCacheSize = 2048

// Config configures the Nominatim client.
type Config struct {
	BaseURL   string        // search endpoint base, e.g. https://nominatim.openstreetmap.org/search
	UserAgent string        // required by Nominatim's usage policy
	MinDelay  time.Duration // minimum spacing between upstream calls
	CacheSize int           // bounded cache capacity, defaults to 2048
	Client    *http.Client
	Logger    *slog.Logger
	Metrics   *metrics.Set
}

// Nominatim is a caching, rate-limited Geocoder.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       *slog.Logger
	limiter   *resilience.Interval
	cache     *lookupCache
	metrics   *metrics.Set
}

// NewNominatim builds the client. Lookup failures of any kind resolve
// to a nil Result so a dead geocoder never blocks ingestion.
func NewNominatim(cfg Config) *Nominatim {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(nil),
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Nominatim{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    client,
		log:       log,
		limiter:   resilience.NewInterval(cfg.MinDelay),
		cache:     newLookupCache(size),
		metrics:   cfg.Metrics,
	}
}

// Lookup resolves name. Cache hits, including cached misses, skip the
// network entirely. Blank names resolve to nil without a call.
func (n *Nominatim) Lookup(ctx context.Context, name string) (*Result, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}

	if res, ok := n.cache.get(key); ok {
		if n.metrics != nil {
			n.metrics.GeocodeHits.Inc()
		}
		return res, nil
	}
	if n.metrics != nil {
		n.metrics.GeocodeMisses.Inc()
	}

	var res *Result
	err := n.limiter.Do(ctx, func(ctx context.Context) error {
		res = n.query(ctx, name)
		return nil
	})
	if err != nil {
		// Context cancelled while waiting for a slot.
		return nil, err
	}

	n.cache.put(key, res)
	return res, nil
}

// query performs one upstream call. Every failure mode degrades to nil.
func (n *Nominatim) query(ctx context.Context, name string) *Result {
	if n.metrics != nil {
		n.metrics.GeocodeLookups.Inc()
	}

	params := url.Values{}
	params.Set("q", name)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		n.log.Warn("geocode request build failed", "name", name, "error", err)
		return nil
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("geocode call failed", "name", name, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		n.log.Warn("geocode upstream status", "name", name, "status", resp.StatusCode)
		return nil
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		n.log.Warn("geocode decode failed", "name", name, "error", err)
		return nil
	}
	if len(places) == 0 {
		return nil
	}
	return places[0].toResult()
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
		State       string `json:"state"`
		Region      string `json:"region"`
	} `json:"address"`
}

func (p nominatimPlace) toResult() *Result {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil
	}
	region := p.Address.State
	if region == "" {
		region = p.Address.Region
	}
	return &Result{
		Lat:         lat,
		Lon:         lon,
		DisplayName: p.DisplayName,
		Country:     p.Address.Country,
		CountryCode: p.Address.CountryCode,
		Region:      region,
	}
}

// String renders a result for logs.
func (r *Result) String() string {
	if r == nil {
		return "<unresolved>"
	}
	return fmt.Sprintf("%s (%.4f, %.4f)", r.DisplayName, r.Lat, r.Lon)
}
