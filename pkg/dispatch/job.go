// Package dispatch moves fetch and sweep work units through NATS
// JetStream with at-least-once delivery.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Kind names a work unit type.
type Kind string

const (
	KindFetch Kind = "fetch"
	KindSweep Kind = "sweep"
)

// JetStream layout. One stream carries both job kinds on separate
// subjects so each kind gets its own durable consumer.
const (
	StreamName      = "INGEST"
	SubjectWildcard = "ingest.>"
	SubjectFetch    = "ingest.fetch"
	SubjectSweep    = "ingest.sweep"
)

// Job is one unit of work on the wire.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Adapter    string    `json:"adapter,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewFetchJob creates a fetch unit for one source adapter.
func NewFetchJob(adapterName string) Job {
	return Job{ID: uuid.New(), Kind: KindFetch, Adapter: adapterName, EnqueuedAt: time.Now().UTC()}
}

// NewSweepJob creates a processing sweep unit.
func NewSweepJob() Job {
	return Job{ID: uuid.New(), Kind: KindSweep, EnqueuedAt: time.Now().UTC()}
}

// Subject returns the stream subject for this job's kind.
func (j Job) Subject() string { return subjectFor(j.Kind) }

func subjectFor(kind Kind) string {
	if kind == KindFetch {
		return SubjectFetch
	}
	return SubjectSweep
}

// policy sets the redelivery budget per kind. maxDeliver counts the
// first delivery, so retries = maxDeliver - 1.
type policy struct {
	maxDeliver  int
	backoffBase time.Duration
	ackWait     time.Duration
}

var policies = map[Kind]policy{
	KindFetch: {maxDeliver: 4, backoffBase: 120 * time.Second, ackWait: 10 * time.Minute},
	KindSweep: {maxDeliver: 3, backoffBase: 30 * time.Second, ackWait: 10 * time.Minute},
}

// backoffDelay doubles the base per prior delivery, capped at one hour.
func backoffDelay(base time.Duration, delivered uint64) time.Duration {
	d := base
	for i := uint64(1); i < delivered; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

// natsHeaderCarrier adapts nats.Msg headers for OTel trace propagation.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// encodeJob serialises a job with the ambient trace context injected
// into the message headers.
func encodeJob(ctx context.Context, j Job) (*nats.Msg, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode job: %w", err)
	}
	msg := &nats.Msg{Subject: j.Subject(), Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// decodeJob deserialises a job and rehydrates its trace context.
func decodeJob(msg *nats.Msg) (Job, context.Context, error) {
	var j Job
	if err := json.Unmarshal(msg.Data, &j); err != nil {
		return Job{}, nil, fmt.Errorf("dispatch: decode job: %w", err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return j, ctx, nil
}
