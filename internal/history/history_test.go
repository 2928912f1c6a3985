// SPDX-License-Identifier: MIT

package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/rec"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService() (*Service, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(5*time.Second, 10*time.Minute, time.Minute, metrics.Nop())
	s.now = clk.now
	return s, clk
}

func TestRunCollapsesConcurrentCallers(t *testing.T) {
	s, _ := newTestService()

	var invocations atomic.Int32
	action := func(ctx context.Context) (any, error) {
		invocations.Add(1)
		time.Sleep(100 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.Run(context.Background(), "op", action)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), invocations.Load(), "same key must execute once")
	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
}

func TestRunDistinctKeysOverlap(t *testing.T) {
	s, _ := newTestService()

	entered := make(chan string, 2)
	release := make(chan struct{})
	action := func(name string) Action {
		return func(ctx context.Context) (any, error) {
			entered <- name
			<-release
			return name, nil
		}
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = s.Run(context.Background(), key, action(key))
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("distinct keys must not serialize")
		}
	}
	close(release)
	wg.Wait()
}

func TestRunWaiterDetachesOnCancel(t *testing.T) {
	s, _ := newTestService()

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		firstVal any
		firstErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		firstVal, _, firstErr = s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "done", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := s.Run(ctx, "op", func(ctx context.Context) (any, error) {
		t.Error("joiner must not execute the action")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.NoError(t, firstErr)
	assert.Equal(t, "done", firstVal)
}

func TestRunThrottlesSuccessiveFetches(t *testing.T) {
	s, clk := newTestService()

	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	run := func() {
		t.Helper()
		_, _, err := s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
			return 1, nil
		})
		require.NoError(t, err)
	}

	run()
	assert.Empty(t, slept, "first run is never throttled")

	clk.advance(1 * time.Second)
	run()
	require.Len(t, slept, 1)
	assert.Equal(t, 4*time.Second, slept[0], "sleep covers the interval remainder")

	clk.advance(10 * time.Second)
	run()
	assert.Len(t, slept, 1, "elapsed interval means no throttle")
}

func TestRunFailedActionDoesNotArmThrottle(t *testing.T) {
	s, clk := newTestService()

	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, _, err := s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	clk.advance(1 * time.Second)
	_, _, err = s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Empty(t, slept, "failures do not start the interval")
}

func TestRunKeysThrottleIndependently(t *testing.T) {
	s, clk := newTestService()

	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ok := func(ctx context.Context) (any, error) { return 1, nil }

	_, _, err := s.Run(context.Background(), "a", ok)
	require.NoError(t, err)

	clk.advance(1 * time.Second)
	_, _, err = s.Run(context.Background(), "b", ok)
	require.NoError(t, err)
	assert.Empty(t, slept, "a fresh key carries no interval")
}

func TestDedupeFirstOccurrenceWins(t *testing.T) {
	s, _ := newTestService()

	items := []rec.Recommendation{
		{Artist: "Boards of Canada", Album: "Geogaddi"},
		{Artist: "boards  of canada", Album: "GEOGADDI"},
		{Artist: "Autechre", Album: "Tri Repetae"},
	}
	kept, inserted := s.Dedupe(rec.ModeAlbum, items)

	require.Len(t, kept, 2)
	assert.Equal(t, "Boards of Canada", kept[0].Artist)
	assert.Equal(t, "Autechre", kept[1].Artist)
	assert.Len(t, inserted, 2)
}

func TestDedupeDropsUnkeyableItems(t *testing.T) {
	s, _ := newTestService()

	items := []rec.Recommendation{
		{Artist: "", Album: "Orphan"},
		{Artist: "Nils Frahm", Album: ""},
		{Artist: "Nils Frahm", Album: "Felt"},
	}
	kept, _ := s.Dedupe(rec.ModeAlbum, items)

	require.Len(t, kept, 1)
	assert.Equal(t, "Felt", kept[0].Album)
}

func TestDedupeArtistModeIgnoresAlbum(t *testing.T) {
	s, _ := newTestService()

	items := []rec.Recommendation{
		{Artist: "Burial", Album: "Untrue"},
		{Artist: "BURIAL", Album: "Rival Dales"},
	}
	kept, _ := s.Dedupe(rec.ModeArtistOnly, items)
	assert.Len(t, kept, 1)
}

func TestDedupeRepeatStaysSuppressed(t *testing.T) {
	s, _ := newTestService()
	items := []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}}

	_, first := s.Dedupe(rec.ModeAlbum, items)
	require.Len(t, first, 1)

	// A later fetch re-suggesting the same item: it survives the in-batch
	// dedup but is not part of that fetch's allowance, so Filter drops it.
	kept, second := s.Dedupe(rec.ModeAlbum, items)
	require.Len(t, kept, 1)
	assert.Empty(t, second)
	assert.Empty(t, s.Filter(rec.ModeAlbum, kept, second))
}

func TestDedupeReinsertsAfterRetention(t *testing.T) {
	s, clk := newTestService()
	items := []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}}

	_, _ = s.Dedupe(rec.ModeAlbum, items)
	clk.advance(11 * time.Minute)

	kept, fresh := s.Dedupe(rec.ModeAlbum, items)
	require.Len(t, kept, 1)
	assert.Len(t, fresh, 1, "an expired key counts as new again")
	assert.Len(t, s.Filter(rec.ModeAlbum, kept, fresh), 1)
}

func TestFilterSuppressesWithinRetention(t *testing.T) {
	s, _ := newTestService()

	items := []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}}
	kept, inserted := s.Dedupe(rec.ModeAlbum, items)
	require.Len(t, kept, 1)

	// Without the session allowance the freshly inserted key is suppressed.
	assert.Empty(t, s.Filter(rec.ModeAlbum, items, nil))

	// With it, the same batch passes.
	assert.Len(t, s.Filter(rec.ModeAlbum, items, inserted), 1)
}

func TestFilterExpiresAfterRetention(t *testing.T) {
	s, clk := newTestService()

	items := []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}}
	_, _ = s.Dedupe(rec.ModeAlbum, items)

	clk.advance(10*time.Minute + time.Second)
	assert.Len(t, s.Filter(rec.ModeAlbum, items, nil), 1, "expired keys no longer suppress")
}

func TestFilterPassesUnkeyableItems(t *testing.T) {
	s, _ := newTestService()

	items := []rec.Recommendation{{Artist: "", Album: "Orphan"}}
	assert.Len(t, s.Filter(rec.ModeAlbum, items, nil), 1)
}

func TestSeen(t *testing.T) {
	s, clk := newTestService()

	_, inserted := s.Dedupe(rec.ModeAlbum, []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}})
	require.Len(t, inserted, 1)
	for key := range inserted {
		assert.True(t, s.Seen(key))
		clk.advance(11 * time.Minute)
		assert.False(t, s.Seen(key))
	}
}

func TestClearEmptiesHistoryButKeepsThrottle(t *testing.T) {
	s, clk := newTestService()

	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	items := []rec.Recommendation{{Artist: "Burial", Album: "Untrue"}}
	_, _ = s.Dedupe(rec.ModeAlbum, items)
	_, _, err := s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	s.Clear()
	assert.Zero(t, s.Size())
	assert.Len(t, s.Filter(rec.ModeAlbum, items, nil), 1)

	clk.advance(1 * time.Second)
	_, _, err = s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Len(t, slept, 1, "throttle interval survives Clear")
}

func TestEvictExpired(t *testing.T) {
	s, clk := newTestService()

	_, _ = s.Dedupe(rec.ModeAlbum, []rec.Recommendation{
		{Artist: "Burial", Album: "Untrue"},
		{Artist: "Autechre", Album: "Amber"},
	})
	_, _, err := s.Run(context.Background(), "op", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	seen, fetched := s.evictExpired()
	assert.Zero(t, seen)
	assert.Zero(t, fetched)

	clk.advance(11 * time.Minute)
	seen, fetched = s.evictExpired()
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, fetched)
	assert.Zero(t, s.Size())
}

func TestRunCleanupStopsOnCancel(t *testing.T) {
	s := &Service{
		minInterval: DefaultMinInterval,
		retention:   time.Millisecond,
		cadence:     5 * time.Millisecond,
		sink:        metrics.Nop(),
		seen:        map[string]time.Time{"k": time.Now().Add(-time.Hour)},
		lastFetched: make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepCtx,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunCleanup(ctx)
	}()

	assert.Eventually(t, func() bool { return s.Size() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func BenchmarkDedupe(b *testing.B) {
	s, _ := newTestService()
	items := []rec.Recommendation{
		{Artist: "Boards of Canada", Album: "Geogaddi"},
		{Artist: "Autechre", Album: "Tri Repetae"},
		{Artist: "Aphex Twin", Album: "Drukqs"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Dedupe(rec.ModeAlbum, items)
	}
}
