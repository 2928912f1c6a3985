// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cratedig/cratedig/internal/metrics"
)

const (
	// DefaultCheckInterval caps active probing per backend.
	DefaultCheckInterval = 5 * time.Minute

	probeAttempts            = 3
	probeBackoffBase         = 150 * time.Millisecond
	probeBackoffCap          = time.Second
	probeSkipAfterRequests   = 5
	unhealthyAfter           = 5
	degradedAfterConsecutive = 2
	degradedBelowRate        = 0.5
	degradedAboveTotal       = 10
)

// Record is the immutable per-backend request ledger. Updates replace the
// whole value atomically so readers never observe a torn write.
type Record struct {
	Total               int64     `json:"total"`
	Success             int64     `json:"success"`
	Fail                int64     `json:"fail"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFail            time.Time `json:"last_fail,omitempty"`
	AvgResponseMs       float64   `json:"avg_response_ms"`
	LastError           string    `json:"last_error,omitempty"`
}

// SuccessRate returns successes over total, or 0 for an empty record.
func (r Record) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Success) / float64(r.Total)
}

// DerivedStatus classifies the record. The status is computed, never stored.
func (r Record) DerivedStatus() Status {
	switch {
	case r.ConsecutiveFailures >= unhealthyAfter:
		return StatusUnhealthy
	case r.ConsecutiveFailures >= degradedAfterConsecutive:
		return StatusDegraded
	case r.Total > degradedAboveTotal && r.SuccessRate() < degradedBelowRate:
		return StatusDegraded
	case r.Total == 0:
		return StatusUnknown
	default:
		return StatusHealthy
	}
}

// ProbeFunc performs one liveness probe against a backend.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks request outcomes per backend and derives a status from
// them. It never makes routing decisions itself; the orchestrator consults
// Status before selecting a backend.
type Monitor struct {
	interval time.Duration
	sink     metrics.Sink
	group    singleflight.Group

	mu    sync.RWMutex
	cells map[string]*cell

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

type cell struct {
	rec       atomic.Pointer[Record]
	lastProbe atomic.Int64 // unix nanos of last probe start
}

// NewMonitor creates a monitor. interval <= 0 falls back to the default.
func NewMonitor(interval time.Duration, sink metrics.Sink) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Monitor{
		interval: interval,
		sink:     sink,
		cells:    make(map[string]*cell),
		now:      time.Now,
		sleep:    sleepCtx,
		randF:    rand.Float64,
	}
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

func (m *Monitor) cell(backend string) *cell {
	m.mu.RLock()
	c, ok := m.cells[backend]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.cells[backend]; ok {
		return c
	}
	c = &cell{}
	c.rec.Store(&Record{})
	m.cells[backend] = c
	return c
}

func (m *Monitor) update(backend string, mutate func(Record) Record) Record {
	c := m.cell(backend)
	for {
		old := c.rec.Load()
		next := mutate(*old)
		if c.rec.CompareAndSwap(old, &next) {
			m.emit(backend, next)
			return next
		}
	}
}

func (m *Monitor) emit(backend string, r Record) {
	m.sink.Gauge(metrics.SeriesConsecutiveFailures, float64(r.ConsecutiveFailures), metrics.Tags{"backend": backend})
	m.sink.Gauge(metrics.SeriesHealthStatus, float64(r.DerivedStatus().Code()), metrics.Tags{"backend": backend})
}

// RecordSuccess resets the failure streak and folds rtt into the running
// response-time average over prior successes.
func (m *Monitor) RecordSuccess(backend string, rtt time.Duration) {
	now := m.now()
	rttMs := float64(rtt.Milliseconds())
	m.update(backend, func(r Record) Record {
		n := float64(r.Success)
		r.AvgResponseMs = (r.AvgResponseMs*n + rttMs) / (n + 1)
		r.Success++
		r.Total++
		r.ConsecutiveFailures = 0
		r.LastSuccess = now
		return r
	})
}

// RecordFailure increments the failure counters and remembers the reason.
func (m *Monitor) RecordFailure(backend, reason string) {
	now := m.now()
	m.update(backend, func(r Record) Record {
		r.Fail++
		r.Total++
		r.ConsecutiveFailures++
		r.LastFail = now
		r.LastError = reason
		return r
	})
}

// Status returns the derived status for a backend. Backends that never
// served a request are Unknown.
func (m *Monitor) Status(backend string) Status {
	return m.Snapshot(backend).DerivedStatus()
}

// Snapshot returns a copy of the backend's record.
func (m *Monitor) Snapshot(backend string) Record {
	return *m.cell(backend).rec.Load()
}

// All returns a copy of every known record keyed by backend id.
func (m *Monitor) All() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.cells))
	for name, c := range m.cells {
		out[name] = *c.rec.Load()
	}
	return out
}

// Check returns the backend status, actively probing only when the record
// is too thin to trust (fewer than 5 requests) and the per-backend probe
// interval has elapsed. Concurrent calls share one probe.
func (m *Monitor) Check(ctx context.Context, backend string, probe ProbeFunc) Status {
	rec := m.Snapshot(backend)
	if rec.Total >= probeSkipAfterRequests || probe == nil {
		return rec.DerivedStatus()
	}

	c := m.cell(backend)
	if !m.probeDue(c) {
		return rec.DerivedStatus()
	}

	v, _, _ := m.group.Do(backend, func() (interface{}, error) {
		if !m.probeDue(c) {
			return m.Status(backend), nil
		}
		c.lastProbe.Store(m.now().UnixNano())

		rtt, err := m.probeWithRetry(ctx, probe)
		if err != nil {
			m.RecordFailure(backend, fmt.Sprintf("probe: %v", err))
		} else {
			m.RecordSuccess(backend, rtt)
		}
		return m.Status(backend), nil
	})
	return v.(Status)
}

func (m *Monitor) probeDue(c *cell) bool {
	last := c.lastProbe.Load()
	return last == 0 || m.now().UnixNano()-last >= int64(m.interval)
}

// probeWithRetry runs up to three attempts with exponential backoff and
// full jitter (base 150ms, cap 1s).
func (m *Monitor) probeWithRetry(ctx context.Context, probe ProbeFunc) (time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < probeAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
				return 0, err
			}
		}
		start := m.now()
		if err := probe(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		return m.now().Sub(start), nil
	}
	return 0, lastErr
}

func (m *Monitor) backoff(attempt int) time.Duration {
	ceiling := probeBackoffBase << (attempt - 1)
	if ceiling > probeBackoffCap {
		ceiling = probeBackoffCap
	}
	return time.Duration(m.randF() * float64(ceiling))
}
