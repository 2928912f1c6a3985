// SPDX-License-Identifier: MIT

// Package history provides per-key single-flight execution, minimum-interval
// throttling between fetches, and the seen-set that keeps a recommendation
// from being surfaced twice within the retention window.
package history

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/rec"
)

const (
	// DefaultMinInterval spaces successive fetch executions for the same
	// operation key.
	DefaultMinInterval = 5 * time.Second

	// DefaultRetention is how long a surfaced recommendation stays
	// suppressed.
	DefaultRetention = 10 * time.Minute

	// DefaultCleanupCadence bounds how often expired entries are evicted.
	// Cadences below one minute are raised to it.
	DefaultCleanupCadence = time.Minute
)

// Action is the unit of work Run collapses per key.
type Action func(ctx context.Context) (any, error)

// Service owns the in-flight map, the per-key throttle timestamps, and the
// seen-set. One instance is created at startup and shared.
type Service struct {
	group singleflight.Group

	minInterval time.Duration
	retention   time.Duration
	cadence     time.Duration
	sink        metrics.Sink

	mu          sync.Mutex
	seen        map[string]time.Time
	lastFetched map[string]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Service. Non-positive durations fall back to the defaults;
// a nil sink is replaced with a no-op.
func New(minInterval, retention, cadence time.Duration, sink metrics.Sink) *Service {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if cadence < DefaultCleanupCadence {
		cadence = DefaultCleanupCadence
	}
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Service{
		minInterval: minInterval,
		retention:   retention,
		cadence:     cadence,
		sink:        sink,
		seen:        make(map[string]time.Time),
		lastFetched: make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Run executes action at most once per key across concurrent callers;
// joiners share the first caller's result. Before the action runs, the
// remainder of the minimum interval since the key's last successful run is
// slept off. The in-flight entry is removed when the action resolves.
//
// The returned bool reports whether the result was shared with another
// caller. A caller whose context ends while waiting detaches with the
// context error; the flight itself continues on the initiating context.
func (s *Service) Run(ctx context.Context, key string, action Action) (any, bool, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		if err := s.throttle(ctx, key); err != nil {
			return nil, err
		}
		v, err := action(ctx)
		if err == nil {
			s.mu.Lock()
			s.lastFetched[key] = s.now()
			s.mu.Unlock()
		}
		return v, err
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}

// throttle sleeps off the remainder of the minimum interval. The lock is
// released before sleeping.
func (s *Service) throttle(ctx context.Context, key string) error {
	s.mu.Lock()
	last, ok := s.lastFetched[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	wait := s.minInterval - s.now().Sub(last)
	if wait <= 0 {
		return nil
	}
	return s.sleep(ctx, wait)
}

// Dedupe removes in-batch duplicates by normalized key, first occurrence
// wins, and inserts survivors into the seen-set. Items without a valid
// key are dropped. The returned set holds only the keys that were not
// already suppressed; passing it to Filter as the session allowance lets
// a fetch keep its own fresh items while repeats from earlier fetches
// stay filtered.
func (s *Service) Dedupe(mode rec.Mode, items []rec.Recommendation) ([]rec.Recommendation, map[string]struct{}) {
	fresh := make(map[string]struct{}, len(items))
	batch := make(map[string]struct{}, len(items))
	out := make([]rec.Recommendation, 0, len(items))

	s.mu.Lock()
	now := s.now()
	for _, item := range items {
		key, ok := rec.Key(mode, item.Artist, item.Album)
		if !ok {
			continue
		}
		if _, dup := batch[key]; dup {
			continue
		}
		batch[key] = struct{}{}
		if at, suppressed := s.seen[key]; !suppressed || now.Sub(at) > s.retention {
			s.seen[key] = now
			fresh[key] = struct{}{}
		}
		out = append(out, item)
	}
	size := len(s.seen)
	s.mu.Unlock()

	s.sink.Gauge(metrics.SeriesHistorySize, float64(size), nil)
	return out, fresh
}

// Filter drops items whose key was surfaced within the retention window,
// unless sessionAllow carries the key. Items without a valid key pass
// through: they were never recorded, so there is nothing to suppress.
func (s *Service) Filter(mode rec.Mode, items []rec.Recommendation, sessionAllow map[string]struct{}) []rec.Recommendation {
	out := make([]rec.Recommendation, 0, len(items))

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, item := range items {
		key, ok := rec.Key(mode, item.Artist, item.Album)
		if !ok {
			out = append(out, item)
			continue
		}
		if _, allowed := sessionAllow[key]; allowed {
			out = append(out, item)
			continue
		}
		if at, found := s.seen[key]; found && now.Sub(at) <= s.retention {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Seen reports whether key is currently suppressed.
func (s *Service) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, found := s.seen[key]
	return found && s.now().Sub(at) <= s.retention
}

// Size returns the number of tracked keys, including not-yet-evicted
// expired ones.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Clear empties the seen-set. Throttle timestamps survive so an immediate
// refetch still honors the minimum interval.
func (s *Service) Clear() {
	s.mu.Lock()
	s.seen = make(map[string]time.Time)
	s.mu.Unlock()
	s.sink.Gauge(metrics.SeriesHistorySize, 0, nil)
}

// RunCleanup evicts expired entries on the configured cadence until ctx
// ends. In-flight entries need no sweeping: singleflight removes them on
// completion.
func (s *Service) RunCleanup(ctx context.Context) {
	logger := log.WithComponent("history")
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seen, fetched := s.evictExpired()
			if seen > 0 || fetched > 0 {
				logger.Debug().
					Str("event", "history.cleanup").
					Int("seen_evicted", seen).
					Int("fetch_evicted", fetched).
					Msg("expired entries evicted")
			}
		}
	}
}

// evictExpired removes seen-set and throttle entries older than retention.
func (s *Service) evictExpired() (seenEvicted, fetchEvicted int) {
	s.mu.Lock()
	now := s.now()
	for key, at := range s.seen {
		if now.Sub(at) > s.retention {
			delete(s.seen, key)
			seenEvicted++
		}
	}
	for key, at := range s.lastFetched {
		if now.Sub(at) > s.retention {
			delete(s.lastFetched, key)
			fetchEvicted++
		}
	}
	size := len(s.seen)
	s.mu.Unlock()

	s.sink.Gauge(metrics.SeriesHistorySize, float64(size), nil)
	return seenEvicted, fetchEvicted
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
