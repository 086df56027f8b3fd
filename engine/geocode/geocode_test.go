package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func placeServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("format") != "jsonv2" || q.Get("limit") != "1" || q.Get("addressdetails") != "1" {
			t.Errorf("query params: %v", q)
		}
		if r.Header.Get("User-Agent") != "test-agent/1.0" {
			t.Errorf("user agent: %q", r.Header.Get("User-Agent"))
		}
		switch q.Get("q") {
		case "Copenhagen":
			json.NewEncoder(w).Encode([]map[string]any{{
				"lat":          "55.6761",
				"lon":          "12.5683",
				"display_name": "Copenhagen, Denmark",
				"address":      map[string]string{"country": "Denmark", "country_code": "dk", "state": "Capital Region"},
			}})
		case "Berlin":
			json.NewEncoder(w).Encode([]map[string]any{{
				"lat":          "52.5200",
				"lon":          "13.4050",
				"display_name": "Berlin, Germany",
				"address":      map[string]string{"country": "Germany", "country_code": "de", "region": "Berlin"},
			}})
		default:
			json.NewEncoder(w).Encode([]any{})
		}
	}))
}

func TestLookupResolvesPlace(t *testing.T) {
	var calls atomic.Int64
	srv := placeServer(t, &calls)
	defer srv.Close()

	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "test-agent/1.0", Client: srv.Client()})
	res, err := g.Lookup(context.Background(), "Copenhagen")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected result")
	}
	if res.Lat != 55.6761 || res.Lon != 12.5683 {
		t.Fatalf("coordinates: %v", res)
	}
	if res.Country != "Denmark" || res.CountryCode != "dk" || res.Region != "Capital Region" {
		t.Fatalf("address: %+v", res)
	}
}

func TestLookupCachesCaseInsensitively(t *testing.T) {
	var calls atomic.Int64
	srv := placeServer(t, &calls)
	defer srv.Close()

	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "test-agent/1.0", Client: srv.Client()})
	ctx := context.Background()
	for _, name := range []string{"Copenhagen", "copenhagen", "  COPENHAGEN ", "Berlin"} {
		if _, err := g.Lookup(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", n)
	}
}

func TestLookupCachesNegatives(t *testing.T) {
	var calls atomic.Int64
	srv := placeServer(t, &calls)
	defer srv.Close()

	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "test-agent/1.0", Client: srv.Client()})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := g.Lookup(ctx, "Nowhereville")
		if err != nil {
			t.Fatal(err)
		}
		if res != nil {
			t.Fatalf("expected nil result, got %v", res)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("negative result must be cached, got %d calls", n)
	}
}

func TestLookupBlankNameSkipsUpstream(t *testing.T) {
	var calls atomic.Int64
	srv := placeServer(t, &calls)
	defer srv.Close()

	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "test-agent/1.0", Client: srv.Client()})
	res, err := g.Lookup(context.Background(), "   ")
	if err != nil || res != nil {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if calls.Load() != 0 {
		t.Fatal("blank name must not hit upstream")
	}
}

func TestLookupUpstreamFailureDegradesToNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "test-agent/1.0", Client: srv.Client()})
	res, err := g.Lookup(context.Background(), "Copenhagen")
	if err != nil {
		t.Fatalf("upstream failure must not surface as error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %v", res)
	}
}

func TestLookupRespectsMinDelay(t *testing.T) {
	var calls atomic.Int64
	srv := placeServer(t, &calls)
	defer srv.Close()

	g := NewNominatim(Config{
		BaseURL:   srv.URL,
		UserAgent: "test-agent/1.0",
		MinDelay:  100 * time.Millisecond,
		Client:    srv.Client(),
	})
	ctx := context.Background()
	start := time.Now()
	g.Lookup(ctx, "Copenhagen")
	g.Lookup(ctx, "Berlin")
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("second upstream call fired after %v, want >= ~100ms", elapsed)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := newLookupCache(2)
	c.put("a", &Result{DisplayName: "A"})
	c.put("b", &Result{DisplayName: "B"})
	c.put("c", &Result{DisplayName: "C"})

	if c.len() != 2 {
		t.Fatalf("cache size: %d", c.len())
	}
	if _, ok := c.get("a"); ok {
		t.Fatal("oldest entry must be evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatal("entry b must survive")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("entry c must survive")
	}
}
