package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
	"github.com/enjin-dev/enjin-ingest/engine/ingest"
	"github.com/enjin-dev/enjin-ingest/engine/rawstore"
	"github.com/enjin-dev/enjin-ingest/pkg/config"
)

func TestJobRoundTrip(t *testing.T) {
	job := NewFetchJob("rss")
	msg, err := encodeJob(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != SubjectFetch {
		t.Fatalf("subject: %s", msg.Subject)
	}

	decoded, ctx, err := decodeJob(msg)
	if err != nil {
		t.Fatal(err)
	}
	if ctx == nil {
		t.Fatal("decode must produce a context")
	}
	if decoded.ID != job.ID || decoded.Kind != KindFetch || decoded.Adapter != "rss" {
		t.Fatalf("round trip: %+v", decoded)
	}
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	_, _, err := decodeJob(&nats.Msg{Data: []byte("not json")})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSubjects(t *testing.T) {
	if NewSweepJob().Subject() != SubjectSweep {
		t.Fatal("sweep subject")
	}
	if NewFetchJob("gdelt").Subject() != SubjectFetch {
		t.Fatal("fetch subject")
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := 30 * time.Second
	cases := []struct {
		delivered uint64
		want      time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(base, c.delivered); got != c.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, c.delivered, got, c.want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	if got := backoffDelay(2*time.Minute, 40); got != time.Hour {
		t.Fatalf("cap: %v", got)
	}
}

func TestPoliciesMatchRetryBudgets(t *testing.T) {
	if p := policies[KindFetch]; p.maxDeliver != 4 || p.backoffBase != 120*time.Second {
		t.Fatalf("fetch policy: %+v", p)
	}
	if p := policies[KindSweep]; p.maxDeliver != 3 || p.backoffBase != 30*time.Second {
		t.Fatalf("sweep policy: %+v", p)
	}
}

type stubSweeper struct {
	res ingest.SweepResult
	err error
}

func (s stubSweeper) Sweep(context.Context) (ingest.SweepResult, error) { return s.res, s.err }

func TestFetchHandlerUnknownAdapter(t *testing.T) {
	h := &Handlers{Store: rawstore.NewMemory(), Settings: config.Settings{}}
	err := h.Fetch(context.Background(), NewFetchJob("no-such-adapter"))
	if !errors.Is(err, adapter.ErrUnknownAdapter) {
		t.Fatalf("expected ErrUnknownAdapter, got %v", err)
	}
}

func TestSweepHandlerPropagatesError(t *testing.T) {
	h := &Handlers{Sweeper: stubSweeper{err: errors.New("db down")}}
	if err := h.Sweep(context.Background(), NewSweepJob()); err == nil {
		t.Fatal("expected error")
	}
	h = &Handlers{Sweeper: stubSweeper{res: ingest.SweepResult{Processed: 3}}}
	if err := h.Sweep(context.Background(), NewSweepJob()); err != nil {
		t.Fatal(err)
	}
}
