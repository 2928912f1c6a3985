// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cratedig/cratedig/internal/metrics"
)

func noop(context.Context) error { return nil }

func TestExecuteBurst(t *testing.T) {
	l := New(BucketConfig{Capacity: 5, Period: time.Second, QueueSize: 0, Timeout: time.Second}, metrics.Nop())

	admitted := 0
	rejected := 0
	for i := 0; i < 10; i++ {
		err := l.Execute(context.Background(), "backend", noop)
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrRateLimited):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Burst of 5, zero queue: around 5 admitted, rest fail fast.
	if admitted < 5 || admitted > 6 {
		t.Errorf("expected ~5 admitted with capacity=5, got %d", admitted)
	}
	if admitted+rejected != 10 {
		t.Errorf("admitted %d + rejected %d != 10", admitted, rejected)
	}
}

func TestBackpressureSequence(t *testing.T) {
	// capacity 1, period 1s, no queue: second call rejects, a later call admits.
	l := New(BucketConfig{Capacity: 1, Period: time.Second, QueueSize: 0, Timeout: time.Second}, metrics.Nop())

	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("first call should admit: %v", err)
	}

	err := l.Execute(context.Background(), "backend", noop)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second call should fail fast with ErrRateLimited, got %v", err)
	}

	time.Sleep(1050 * time.Millisecond)

	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("call after refill should admit: %v", err)
	}
}

func TestQueuedWaiterAdmits(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: 200 * time.Millisecond, QueueSize: 1, Timeout: time.Second}, metrics.Nop())

	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("first call should admit: %v", err)
	}

	start := time.Now()
	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("queued call should eventually admit: %v", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Errorf("queued call admitted after %v, expected to wait for refill", waited)
	}
}

func TestAdmissionTimeout(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: 10 * time.Second, QueueSize: 1, Timeout: 100 * time.Millisecond}, metrics.Nop())

	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("first call should admit: %v", err)
	}

	err := l.Execute(context.Background(), "backend", noop)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on admission timeout, got %v", err)
	}

	if got := l.Stats("backend").Queued; got != 0 {
		t.Errorf("queue slot not released after timeout, queued=%d", got)
	}
}

func TestCancelDuringWaitReleasesSlot(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: 10 * time.Second, QueueSize: 1, Timeout: 0}, metrics.Nop())

	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("first call should admit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Execute(ctx, "backend", noop)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	if got := l.Stats("backend").Queued; got != 0 {
		t.Errorf("queue slot not released after cancel, queued=%d", got)
	}
}

func TestOneTokenPerCallRegardlessOfDuration(t *testing.T) {
	l := New(BucketConfig{Capacity: 2, Period: time.Second, QueueSize: 0, Timeout: time.Second}, metrics.Nop())

	slow := func(context.Context) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	}
	if err := l.Execute(context.Background(), "backend", slow); err != nil {
		t.Fatalf("slow action should admit: %v", err)
	}
	// The long-running action must not have consumed extra tokens.
	if err := l.Execute(context.Background(), "backend", noop); err != nil {
		t.Fatalf("second token should still be available: %v", err)
	}
}

func TestRollingWindowBound(t *testing.T) {
	// capacity 3 per 300ms; 9 concurrent calls must take at least two
	// refill intervals beyond the initial burst.
	l := New(BucketConfig{Capacity: 3, Period: 300 * time.Millisecond, QueueSize: 10, Timeout: 5 * time.Second}, metrics.Nop())

	var success atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Execute(context.Background(), "backend", noop); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 9 {
		t.Fatalf("expected all 9 queued calls to admit, got %d", success.Load())
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("9 admissions at 3 per 300ms finished in %v, rate not enforced", elapsed)
	}
}

func TestStatsTracksRejections(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: time.Minute, QueueSize: 0, Timeout: time.Second}, metrics.Nop())

	_ = l.Execute(context.Background(), "backend", noop)
	_ = l.Execute(context.Background(), "backend", noop)
	_ = l.Execute(context.Background(), "backend", noop)

	stats := l.Stats("backend")
	if stats.InPeriod != 1 {
		t.Errorf("InPeriod = %d, want 1", stats.InPeriod)
	}
	if stats.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", stats.Rejected)
	}
}

func TestResourcesAreIndependent(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: time.Minute, QueueSize: 0, Timeout: time.Second}, metrics.Nop())

	if err := l.Execute(context.Background(), "a", noop); err != nil {
		t.Fatalf("resource a: %v", err)
	}
	// Resource b has its own bucket and must admit.
	if err := l.Execute(context.Background(), "b", noop); err != nil {
		t.Fatalf("resource b: %v", err)
	}

	if got := len(l.Resources()); got != 2 {
		t.Errorf("Resources() = %d entries, want 2", got)
	}
}

func TestConfigureOverridesDefaults(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, Period: time.Minute, QueueSize: 0, Timeout: time.Second}, metrics.Nop())
	l.Configure("roomy", BucketConfig{Capacity: 100, Period: time.Minute, QueueSize: 0, Timeout: time.Second})

	for i := 0; i < 50; i++ {
		if err := l.Execute(context.Background(), "roomy", noop); err != nil {
			t.Fatalf("call %d should admit under capacity 100: %v", i, err)
		}
	}
}

func BenchmarkExecuteFastPath(b *testing.B) {
	l := New(BucketConfig{Capacity: 1 << 30, Period: time.Second, QueueSize: 0, Timeout: time.Second}, metrics.Nop())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = l.Execute(ctx, "bench", noop)
	}
}
