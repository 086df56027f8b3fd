package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enjin-dev/enjin-ingest/pkg/fn"
)

// Publisher enqueues work units onto the stream.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

// NewPublisher builds a Publisher on an open client.
func NewPublisher(c *Client, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: c, log: log}
}

// Enqueue publishes one job and waits for the stream's ack.
func (p *Publisher) Enqueue(ctx context.Context, job Job) error {
	msg, err := encodeJob(ctx, job)
	if err != nil {
		return err
	}
	if _, err := p.client.JS.PublishMsg(msg); err != nil {
		return fmt.Errorf("dispatch: publish %s: %w", job.Kind, err)
	}
	p.log.Debug("job enqueued", "id", job.ID, "kind", job.Kind, "adapter", job.Adapter)
	return nil
}

// EnqueueFetch enqueues one fetch unit per adapter name.
func (p *Publisher) EnqueueFetch(ctx context.Context, adapters ...string) error {
	for _, job := range fn.Map(adapters, NewFetchJob) {
		if err := p.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueSweep enqueues a processing sweep.
func (p *Publisher) EnqueueSweep(ctx context.Context) error {
	return p.Enqueue(ctx, NewSweepJob())
}
