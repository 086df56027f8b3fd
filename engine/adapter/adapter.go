// Package adapter defines the uniform RawItem model, the SourceAdapter
// contract, and the three concrete upstream adapters (rss, gdelt, cvr).
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawItem is the canonical, source-agnostic form of a single fetched
// upstream document. Immutable after creation.
type RawItem struct {
	SourceAdapter string         `json:"source_adapter"`
	ExternalID    string         `json:"external_id"`
	Title         string         `json:"title"`
	Content       string         `json:"content,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Authors       []string       `json:"authors"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	SourceURL     string         `json:"source_url,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// SourceAdapter is implemented by every upstream source. Fetch owns all
// source-specific I/O and mapping; per-entry failures are logged and
// skipped, while a network-level failure is returned so the dispatcher can
// retry the whole unit.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context) ([]RawItem, error)
}

// ExternalID derives the stable cross-run deduplication key for an item:
// the first 32 hex characters of sha256("<prefix>:<id>").
func ExternalID(prefix, id string) string {
	sum := sha256.Sum256([]byte(prefix + ":" + id))
	return hex.EncodeToString(sum[:])[:32]
}
