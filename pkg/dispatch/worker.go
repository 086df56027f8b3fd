package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/enjin-dev/enjin-ingest/pkg/metrics"
)

// HandlerFunc processes one decoded job. Returning an error triggers a
// delayed redelivery until the kind's delivery budget runs out.
type HandlerFunc func(ctx context.Context, job Job) error

// WorkerConfig tunes the worker.
type WorkerConfig struct {
	Concurrency int // parallel handlers across all kinds, defaults to 4
	Logger      *slog.Logger
	Metrics     *metrics.Set
}

// Worker consumes the stream with one durable consumer per job kind.
// Messages are acked only after the handler returns nil, so a crash
// mid-handler redelivers the unit.
type Worker struct {
	client   *Client
	log      *slog.Logger
	metrics  *metrics.Set
	sem      chan struct{}
	handlers map[Kind]HandlerFunc

	mu   sync.Mutex
	subs []*nats.Subscription
	wg   sync.WaitGroup
}

// NewWorker builds a Worker on an open client.
func NewWorker(c *Client, cfg WorkerConfig) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 4
	}
	return &Worker{
		client:   c,
		log:      log,
		metrics:  cfg.Metrics,
		sem:      make(chan struct{}, conc),
		handlers: make(map[Kind]HandlerFunc),
	}
}

// Handle registers the handler for one job kind. Must be called before
// Start.
func (w *Worker) Handle(kind Kind, fn HandlerFunc) {
	w.handlers[kind] = fn
}

// Start subscribes a durable consumer for every registered kind.
func (w *Worker) Start() error {
	for kind := range w.handlers {
		pol := policies[kind]
		durable := "ingest-" + string(kind)
		sub, err := w.client.JS.QueueSubscribe(subjectFor(kind), durable, w.consume(kind),
			nats.Durable(durable),
			nats.ManualAck(),
			nats.MaxDeliver(pol.maxDeliver),
			nats.AckWait(pol.ackWait),
		)
		if err != nil {
			return fmt.Errorf("dispatch: subscribe %s: %w", kind, err)
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
		w.log.Info("consumer started", "kind", kind, "durable", durable)
	}
	return nil
}

func (w *Worker) consume(kind Kind) nats.MsgHandler {
	return func(msg *nats.Msg) {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer func() {
				<-w.sem
				w.wg.Done()
			}()
			w.process(kind, msg)
		}()
	}
}

func (w *Worker) process(kind Kind, msg *nats.Msg) {
	job, ctx, err := decodeJob(msg)
	if err != nil {
		// Malformed payloads can never succeed; drop them.
		w.log.Error("dropping undecodable job", "kind", kind, "error", err)
		_ = msg.Term()
		return
	}

	handler := w.handlers[kind]
	if err := handler(ctx, job); err != nil {
		w.retry(kind, job, msg, err)
		return
	}
	if err := msg.Ack(); err != nil {
		w.log.Error("ack failed", "id", job.ID, "kind", kind, "error", err)
		return
	}
	w.log.Debug("job done", "id", job.ID, "kind", kind, "adapter", job.Adapter)
}

func (w *Worker) retry(kind Kind, job Job, msg *nats.Msg, cause error) {
	pol := policies[kind]
	delivered := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}

	if delivered >= uint64(pol.maxDeliver) {
		w.log.Error("job exhausted its delivery budget",
			"id", job.ID, "kind", kind, "adapter", job.Adapter,
			"deliveries", delivered, "error", cause)
		_ = msg.Term()
		return
	}

	delay := backoffDelay(pol.backoffBase, delivered)
	if w.metrics != nil {
		w.metrics.UnitsRetried.WithLabelValues(string(kind)).Inc()
	}
	w.log.Warn("job failed, scheduling redelivery",
		"id", job.ID, "kind", kind, "adapter", job.Adapter,
		"delivery", delivered, "delay", delay, "error", cause)
	if err := msg.NakWithDelay(delay); err != nil {
		w.log.Error("nak failed", "id", job.ID, "error", err)
	}
}

// Drain unsubscribes the consumers and waits for in-flight handlers.
func (w *Worker) Drain() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			w.log.Warn("subscription drain failed", "error", err)
		}
	}
	w.wg.Wait()
}
