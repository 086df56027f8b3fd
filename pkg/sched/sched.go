// Package sched enqueues periodic fetch and sweep work on a UTC cron.
// It never executes work itself; all heavy lifting happens in workers.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/enjin-dev/enjin-ingest/pkg/config"
)

// Cron expressions, evaluated in UTC.
const (
	FetchSpec = "*/15 * * * *"
	SweepSpec = "*/5 * * * *"
)

// Enqueuer publishes work units. Satisfied by dispatch.Publisher.
type Enqueuer interface {
	EnqueueFetch(ctx context.Context, adapters ...string) error
	EnqueueSweep(ctx context.Context) error
}

// FetchAdapters returns the adapters the schedule should fetch. The
// business registry only joins when search terms are configured.
func FetchAdapters(cfg config.Settings) []string {
	adapters := []string{"rss", "gdelt"}
	if len(cfg.CVRSearchTerms) > 0 {
		adapters = append(adapters, "cvr")
	}
	return adapters
}

// Config wires a Scheduler.
type Config struct {
	Enqueuer Enqueuer
	Adapters []string
	Logger   *slog.Logger
}

// Scheduler owns the cron and the enqueue callbacks.
type Scheduler struct {
	cron     *cron.Cron
	enq      Enqueuer
	adapters []string
	log      *slog.Logger
}

// New builds a Scheduler. Jobs are registered but not started.
func New(cfg Config) (*Scheduler, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		enq:      cfg.Enqueuer,
		adapters: cfg.Adapters,
		log:      log,
	}
	if _, err := s.cron.AddFunc(FetchSpec, s.fetchAll); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(SweepSpec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing the schedule.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "fetch", FetchSpec, "sweep", SweepSpec, "adapters", s.adapters)
	s.cron.Start()
}

// Stop halts the schedule and waits for in-flight enqueues.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) fetchAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.enq.EnqueueFetch(ctx, s.adapters...); err != nil {
		s.log.Error("fetch enqueue failed", "error", err)
		return
	}
	s.log.Debug("fetch units enqueued", "adapters", s.adapters)
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.enq.EnqueueSweep(ctx); err != nil {
		s.log.Error("sweep enqueue failed", "error", err)
		return
	}
	s.log.Debug("sweep unit enqueued")
}
