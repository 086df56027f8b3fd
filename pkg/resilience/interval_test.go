package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIntervalSpacesCalls(t *testing.T) {
	lim := NewInterval(50 * time.Millisecond)
	ctx := context.Background()

	var stamps []time.Time
	for range 3 {
		if err := lim.Do(ctx, func(context.Context) error {
			stamps = append(stamps, time.Now())
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 45*time.Millisecond {
			t.Fatalf("calls %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestIntervalFirstCallImmediate(t *testing.T) {
	lim := NewInterval(time.Second)
	start := time.Now()
	if err := lim.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("first call should not wait")
	}
}

func TestIntervalConcurrentCallersSerialized(t *testing.T) {
	lim := NewInterval(20 * time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lim.Do(ctx, func(context.Context) error {
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 15*time.Millisecond {
			t.Fatalf("concurrent callers circumvented the interval: %v", gap)
		}
	}
}

func TestIntervalContextCancelled(t *testing.T) {
	lim := NewInterval(time.Hour)
	ctx := context.Background()
	_ = lim.Do(ctx, func(context.Context) error { return nil })

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := lim.Do(cctx, func(context.Context) error {
		t.Fatal("must not run after cancelled wait")
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}
