package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>World News</title>
    <item>
      <title>First story</title>
      <link>https://example.com/1</link>
      <description>&lt;p&gt;Alice   spoke &lt;b&gt;today&lt;/b&gt;.&lt;/p&gt;</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
      <dc:creator>Alice Writer, Bob Editor</dc:creator>
      <category>politics</category>
      <category>world</category>
    </item>
    <item>
      <title>Second story</title>
      <link>https://example.com/2</link>
      <description>Acme announced results.</description>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <title>Atom entry</title>
    <link rel="alternate" href="https://example.com/atom/1"/>
    <summary>Short summary here.</summary>
    <author><name>Carol</name></author>
    <updated>2024-05-01T10:00:00Z</updated>
    <category term="tech"/>
  </entry>
</feed>`

func serveBody(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSFetch(t *testing.T) {
	srv := serveBody(t, sampleRSS)
	a := NewRSS(RSSConfig{FeedURLs: []string{srv.URL}, Client: srv.Client()})

	items, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ExternalID != ExternalID("rss", "https://example.com/1") {
		t.Fatalf("external id mismatch: %s", first.ExternalID)
	}
	if first.Summary != "Alice spoke today ." && first.Summary != "Alice spoke today." {
		t.Fatalf("summary not stripped/collapsed: %q", first.Summary)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "Alice Writer" {
		t.Fatalf("authors: %v", first.Authors)
	}
	if first.PublishedAt == nil {
		t.Fatal("expected published time")
	}
	if got := first.PublishedAt.Year(); got != 2006 {
		t.Fatalf("published year: %d", got)
	}
	tags, _ := first.Metadata["tags"].([]string)
	if len(tags) != 2 || tags[0] != "politics" {
		t.Fatalf("tags: %v", first.Metadata["tags"])
	}
	if first.Metadata["feed_url"] != srv.URL {
		t.Fatalf("feed_url: %v", first.Metadata["feed_url"])
	}

	second := items[1]
	if second.PublishedAt != nil {
		t.Fatal("second item has no date")
	}
	if second.SourceURL != "https://example.com/2" {
		t.Fatalf("source url: %s", second.SourceURL)
	}
}

func TestRSSFetchAtom(t *testing.T) {
	srv := serveBody(t, sampleAtom)
	a := NewRSS(RSSConfig{FeedURLs: []string{srv.URL}, Client: srv.Client()})

	items, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	e := items[0]
	if e.SourceURL != "https://example.com/atom/1" {
		t.Fatalf("link: %s", e.SourceURL)
	}
	if len(e.Authors) != 1 || e.Authors[0] != "Carol" {
		t.Fatalf("authors: %v", e.Authors)
	}
	if e.PublishedAt == nil || e.PublishedAt.Month() != time.May {
		t.Fatalf("updated fallback not used: %v", e.PublishedAt)
	}
}

func TestRSSMalformedFeedYieldsEmpty(t *testing.T) {
	srv := serveBody(t, "this is not xml at all <<<>")
	a := NewRSS(RSSConfig{FeedURLs: []string{srv.URL}, Client: srv.Client()})

	items, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("malformed feed must not be an error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestRSSServerErrorRaises(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	a := NewRSS(RSSConfig{FeedURLs: []string{srv.URL}, Client: srv.Client()})

	if _, err := a.Fetch(context.Background()); err == nil {
		t.Fatal("5xx must raise so the dispatcher can retry")
	}
}

func TestRSSNotFoundSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	a := NewRSS(RSSConfig{FeedURLs: []string{srv.URL}, Client: srv.Client()})

	items, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("4xx is permanent, not retryable: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"":                              "",
		"plain":                         "plain",
		"<p>a  b</p>":                   "a b",
		"<div><b>x</b> <i>y</i></div>":  "x y",
		"line1<br/>line2\n\nline3":      "line1 line2 line3",
		"&lt;escaped&gt; &amp; entity":  "<escaped> & entity",
	}
	for in, want := range cases {
		if got := stripHTML(in); got != want {
			t.Errorf("stripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFeedTimeOrder(t *testing.T) {
	published := "Tue, 03 Jan 2006 10:00:00 +0000"
	updated := "2024-05-01T10:00:00Z"

	if got := parseFeedTime(published, updated); got == nil || got.Year() != 2006 {
		t.Fatalf("published must win: %v", got)
	}
	if got := parseFeedTime("", updated); got == nil || got.Year() != 2024 {
		t.Fatalf("updated fallback: %v", got)
	}
	if got := parseFeedTime("garbage", "also garbage"); got != nil {
		t.Fatalf("unparseable must be nil: %v", got)
	}
}
