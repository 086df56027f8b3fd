package tagger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfig configures the sidecar client.
type HTTPConfig struct {
	URL    string // full endpoint, e.g. http://ner:8000/ner
	Model  string // model name passed through to the sidecar
	Client *http.Client
	Logger *slog.Logger
}

// HTTP talks to the NER sidecar over its JSON endpoint.
type HTTP struct {
	url    string
	model  string
	client *http.Client
	log    *slog.Logger
}

// NewHTTP builds a sidecar client. A default client with a 30s timeout
// and otel transport is used when none is given.
func NewHTTP(cfg HTTPConfig) *HTTP {
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
	return &HTTP{url: cfg.URL, model: cfg.Model, client: client, log: log}
}

type nerRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// mention is one raw sidecar hit before label mapping and dedup.
type mention struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Tag sends text to the sidecar and returns the mapped, deduplicated
// entities. Blank text short-circuits without a network call.
func (h *HTTP) Tag(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(nerRequest{Text: text, Model: h.model})
	if err != nil {
		return nil, fmt.Errorf("tagger: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tagger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tagger: call sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tagger: sidecar returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var mentions []mention
	if err := json.NewDecoder(resp.Body).Decode(&mentions); err != nil {
		return nil, fmt.Errorf("tagger: decode response: %w", err)
	}

	entities := dedupe(mentions)
	h.log.Debug("tagged text", "mentions", len(mentions), "entities", len(entities))
	return entities, nil
}
