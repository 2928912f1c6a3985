// SPDX-License-Identifier: MIT

// Package ratelimit gates backend invocations with per-resource token
// buckets. Admission is two-staged: a free token grants immediate
// execution, otherwise the caller takes a bounded queue slot and waits.
// A full queue fails fast so callers can fall back instead of piling up.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cratedig/cratedig/internal/metrics"
)

// ErrRateLimited is returned when the admission queue is full or the
// admission wait exceeds the configured timeout. It never reflects a
// backend failure and must not feed the health monitor.
var ErrRateLimited = errors.New("rate limit exceeded")

// BucketConfig configures one resource bucket.
type BucketConfig struct {
	Capacity  int           // tokens per period
	Period    time.Duration // refill window
	QueueSize int           // waiters admitted before fail-fast
	Timeout   time.Duration // max admission wait, 0 means ctx-bound only
}

// DefaultBucketConfig mirrors the settings defaults.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		Capacity:  30,
		Period:    time.Minute,
		QueueSize: 10,
		Timeout:   30 * time.Second,
	}
}

func (c BucketConfig) validate() BucketConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.Period <= 0 {
		c.Period = time.Minute
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	return c
}

// Stats is a point-in-time snapshot of one bucket.
type Stats struct {
	InPeriod  int     `json:"in_period"`
	Queued    int     `json:"queued"`
	Rejected  int64   `json:"rejected"`
	AvgWaitMs float64 `json:"avg_wait_ms"`
}

// Limiter manages one token bucket per resource. Refill arithmetic relies
// on the runtime's monotonic clock, so wall-clock jumps cannot mint tokens.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	defaults BucketConfig
	sink     metrics.Sink
	now      func() time.Time
}

type bucket struct {
	resource string
	limiter  *rate.Limiter
	queue    chan struct{}
	timeout  time.Duration
	period   time.Duration

	mu       sync.Mutex
	admitted []time.Time
	rejected int64
	waits    int64
	avgWait  float64 // milliseconds, running average
}

// New creates a limiter. Resources not explicitly configured get defaults.
func New(defaults BucketConfig, sink metrics.Sink) *Limiter {
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		defaults: defaults.validate(),
		sink:     sink,
		now:      time.Now,
	}
}

// Configure installs or replaces the bucket for a resource. In-flight
// waiters keep the bucket they entered with.
func (l *Limiter) Configure(resource string, cfg BucketConfig) {
	b := newBucket(resource, cfg.validate())
	l.mu.Lock()
	l.buckets[resource] = b
	l.mu.Unlock()
}

func newBucket(resource string, cfg BucketConfig) *bucket {
	return &bucket{
		resource: resource,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.Capacity)/cfg.Period.Seconds()), cfg.Capacity),
		queue:    make(chan struct{}, cfg.QueueSize),
		timeout:  cfg.Timeout,
		period:   cfg.Period,
	}
}

func (l *Limiter) bucket(resource string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[resource]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[resource]; ok {
		return b
	}
	b = newBucket(resource, l.defaults)
	l.buckets[resource] = b
	return b
}

// Execute runs action after admission. Exactly one token is consumed per
// call regardless of how long the action runs. Cancellation during the
// admission wait releases the queue slot and returns the context error;
// queue overflow and admission timeout return ErrRateLimited.
func (l *Limiter) Execute(ctx context.Context, resource string, action func(context.Context) error) error {
	b := l.bucket(resource)
	start := l.now()

	if !b.limiter.Allow() {
		select {
		case b.queue <- struct{}{}:
		default:
			b.recordRejected()
			l.sink.Count(metrics.SeriesRateRejected, 1, metrics.Tags{"resource": resource})
			return fmt.Errorf("resource %q queue full: %w", resource, ErrRateLimited)
		}
		l.sink.Gauge(metrics.SeriesRateQueued, float64(len(b.queue)), metrics.Tags{"resource": resource})

		waitCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		err := b.limiter.Wait(waitCtx)
		<-b.queue
		l.sink.Gauge(metrics.SeriesRateQueued, float64(len(b.queue)), metrics.Tags{"resource": resource})

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.recordRejected()
			l.sink.Count(metrics.SeriesRateRejected, 1, metrics.Tags{"resource": resource})
			return fmt.Errorf("resource %q admission wait: %w", resource, ErrRateLimited)
		}
	}

	b.recordAdmitted(l.now(), l.now().Sub(start))
	return action(ctx)
}

// Stats returns the current snapshot for a resource.
func (l *Limiter) Stats(resource string) Stats {
	b := l.bucket(resource)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(l.now())
	return Stats{
		InPeriod:  len(b.admitted),
		Queued:    len(b.queue),
		Rejected:  b.rejected,
		AvgWaitMs: b.avgWait,
	}
}

// Resources lists the currently known resource names.
func (l *Limiter) Resources() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		names = append(names, name)
	}
	return names
}

func (b *bucket) recordAdmitted(at time.Time, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(at)
	b.admitted = append(b.admitted, at)
	waitMs := float64(wait.Milliseconds())
	b.avgWait = (b.avgWait*float64(b.waits) + waitMs) / float64(b.waits+1)
	b.waits++
}

func (b *bucket) recordRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

func (b *bucket) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.period)
	i := 0
	for i < len(b.admitted) && b.admitted[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.admitted = append(b.admitted[:0], b.admitted[i:]...)
	}
}
