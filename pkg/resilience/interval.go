// Package resilience provides call-spacing primitives for polite use of
// external services.
package resilience

import (
	"context"
	"sync"
	"time"
)

// Interval enforces a minimum spacing between calls. The mutex covers the
// wait, the call itself, and the last-call timestamp update, so concurrent
// callers cannot squeeze inside the interval.
type Interval struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
	now  func() time.Time
}

// NewInterval creates a limiter with the given minimum spacing between calls.
func NewInterval(min time.Duration) *Interval {
	return &Interval{min: min, now: time.Now}
}

// Do waits until at least the configured interval has elapsed since the
// previous call completed, then runs f. The completion time of f is recorded
// as the new anchor. Returns ctx.Err() if the context expires while waiting.
func (i *Interval) Do(ctx context.Context, f func(context.Context) error) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.last.IsZero() {
		if remaining := i.min - i.now().Sub(i.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	err := f(ctx)
	i.last = i.now()
	return err
}
