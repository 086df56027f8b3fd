package adapter

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	xhtml "golang.org/x/net/html"

	"github.com/enjin-dev/enjin-ingest/pkg/fn"
)

// RSSConfig configures the RSS/Atom feed adapter.
type RSSConfig struct {
	FeedURLs []string
	Client   *http.Client
	Logger   *slog.Logger
}

// RSS fetches RSS 2.0 and Atom feeds and maps entries to RawItems.
type RSS struct {
	cfg    RSSConfig
	client *http.Client
	log    *slog.Logger
}

// NewRSS creates the feed adapter.
func NewRSS(cfg RSSConfig) *RSS {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(nil),
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &RSS{cfg: cfg, client: client, log: log}
}

func (r *RSS) Name() string { return "rss" }

// Fetch parses every configured feed URL and returns a flat list of items.
// A malformed feed contributes nothing; a transport or 5xx failure aborts
// the fetch so the dispatcher retries it.
func (r *RSS) Fetch(ctx context.Context) ([]RawItem, error) {
	if len(r.cfg.FeedURLs) == 0 {
		r.log.Warn("rss: no feed urls configured")
		return nil, nil
	}

	var items []RawItem
	for _, url := range r.cfg.FeedURLs {
		feedItems, err := r.fetchFeed(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("rss feed %s: %w", url, err)
		}
		items = append(items, feedItems...)
		r.log.Info("rss: fetched feed", "url", url, "items", len(feedItems))
	}
	return items, nil
}

func (r *RSS) fetchFeed(ctx context.Context, url string) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "enjin-osint/0.1 (contact@enjin.dev)")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// Permanent upstream failure: log and move on.
		r.log.Warn("rss: feed unavailable", "url", url, "status", resp.StatusCode)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return r.parseFeed(body, url), nil
}

// parseFeed maps a feed document to RawItems. A document that yields zero
// entries is treated as malformed-but-empty, not an error.
func (r *RSS) parseFeed(body []byte, feedURL string) []RawItem {
	var doc feedDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		r.log.Warn("rss: malformed feed", "url", feedURL, "error", err)
		return nil
	}

	var items []RawItem
	if doc.Channel != nil {
		for _, it := range doc.Channel.Items {
			items = append(items, r.rssItemToRaw(it, feedURL))
		}
	}
	for _, e := range doc.Entries {
		items = append(items, r.atomEntryToRaw(e, feedURL))
	}
	return items
}

func (r *RSS) rssItemToRaw(it rssItem, feedURL string) RawItem {
	link := it.Link
	if link == "" {
		link = feedURL
	}

	authors := fn.FilterMap(strings.Split(firstNonEmpty(it.Creator, it.Author), ","), func(a string) (string, bool) {
		a = strings.TrimSpace(a)
		return a, a != ""
	})

	published := parseFeedTime(it.PubDate, it.Updated)

	tags := fn.FilterMap(it.Categories, func(c string) (string, bool) {
		c = strings.TrimSpace(c)
		return c, c != ""
	})

	return RawItem{
		SourceAdapter: r.Name(),
		ExternalID:    ExternalID("rss", link),
		Title:         strings.TrimSpace(it.Title),
		Content:       stripHTML(it.ContentEncoded),
		Summary:       stripHTML(it.Description),
		Authors:       authors,
		PublishedAt:   published,
		SourceURL:     link,
		Metadata: map[string]any{
			"feed_url": feedURL,
			"tags":     tags,
		},
	}
}

func (r *RSS) atomEntryToRaw(e atomEntry, feedURL string) RawItem {
	link := e.link()
	if link == "" {
		link = feedURL
	}

	authors := fn.FilterMap(e.Authors, func(a atomAuthor) (string, bool) {
		name := strings.TrimSpace(a.Name)
		return name, name != ""
	})

	published := parseFeedTime(e.Published, e.Updated)

	tags := fn.FilterMap(e.Categories, func(c atomCategory) (string, bool) {
		term := strings.TrimSpace(c.Term)
		return term, term != ""
	})

	return RawItem{
		SourceAdapter: r.Name(),
		ExternalID:    ExternalID("rss", link),
		Title:         strings.TrimSpace(e.Title),
		Content:       stripHTML(e.Content),
		Summary:       stripHTML(e.Summary),
		Authors:       authors,
		PublishedAt:   published,
		SourceURL:     link,
		Metadata: map[string]any{
			"feed_url": feedURL,
			"tags":     tags,
		},
	}
}

// feedDocument accepts either an <rss> root with a channel or an Atom
// <feed> root with entries.
type feedDocument struct {
	XMLName xml.Name
	Channel *rssChannel `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title          string   `xml:"title"`
	Link           string   `xml:"link"`
	Description    string   `xml:"description"`
	ContentEncoded string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Author         string   `xml:"author"`
	Creator        string   `xml:"http://purl.org/dc/elements/1.1/ creator"`
	PubDate        string   `xml:"pubDate"`
	Updated        string   `xml:"updated"`
	Categories     []string `xml:"category"`
}

type atomEntry struct {
	Title      string         `xml:"title"`
	Links      []atomLink     `xml:"link"`
	Summary    string         `xml:"summary"`
	Content    string         `xml:"content"`
	Authors    []atomAuthor   `xml:"author"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Categories []atomCategory `xml:"category"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// link prefers the alternate link, falling back to the first.
func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

var feedTimeLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700", // RFC 2822 with single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// parseFeedTime resolves an entry timestamp: published first, updated as
// fallback, nil when neither parses.
func parseFeedTime(published, updated string) *time.Time {
	for _, raw := range []string{published, updated} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range feedTimeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				utc := t.UTC()
				return &utc
			}
		}
	}
	return nil
}

// stripHTML removes markup and collapses whitespace.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	tokenizer := xhtml.NewTokenizer(strings.NewReader(s))
	var parts []string
	for {
		tt := tokenizer.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		if tt == xhtml.TextToken {
			if text := strings.TrimSpace(tokenizer.Token().Data); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
