// SPDX-License-Identifier: MIT

// Package resilience bounds retries of transiently failing backend calls.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultAttempts    = 2
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
)

// Policy is a bounded exponential backoff with full jitter. Attempts counts
// the first try, so Attempts=2 allows a single retry.
type Policy struct {
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// Default returns the policy applied to generator invocations.
func Default() Policy {
	return Policy{
		Attempts:    defaultAttempts,
		BackoffBase: defaultBackoffBase,
		BackoffCap:  defaultBackoffCap,
	}
}

// Do runs op, retrying while shouldRetry classifies the error as transient
// and attempts remain. Cancellation aborts immediately, during op and
// during backoff alike. The final error is returned on giveup.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, shouldRetry func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	randF := p.randF
	if randF == nil {
		randF = rand.Float64
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.backoff(attempt-1, randF)); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || shouldRetry == nil || !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}

func (p Policy) backoff(n int, randF func() float64) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	capD := p.BackoffCap
	if capD <= 0 {
		capD = defaultBackoffCap
	}

	d := base << (n - 1)
	if d > capD || d <= 0 {
		d = capD
	}
	return time.Duration(randF() * float64(d))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
