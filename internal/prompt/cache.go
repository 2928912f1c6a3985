// SPDX-License-Identifier: MIT

package prompt

import (
	"context"
	"sync"
	"time"
)

// planCacheKey joins the two halves of a plan's identity: what the
// library looked like and what was asked of it.
func planCacheKey(libraryFingerprint, requestHash string) string {
	return libraryFingerprint + ":" + requestHash
}

// CacheStats holds plan-cache performance counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

// PlanCache stores rendered first-round plans. Implementations are safe
// for concurrent use.
type PlanCache interface {
	Get(key string) (Plan, bool)
	Set(key string, plan Plan)
	Delete(key string)
	Clear()
	Stats() CacheStats
}

type planEntry struct {
	plan       Plan
	expiration time.Time
}

func (e *planEntry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// MemoryPlanCache is a bounded in-process PlanCache with per-entry TTL.
// Expired entries are dropped lazily on access and by RunJanitor; when
// the capacity is reached the entry closest to expiry is evicted.
type MemoryPlanCache struct {
	mu       sync.RWMutex
	entries  map[string]*planEntry
	ttl      time.Duration
	capacity int
	stats    CacheStats

	now func() time.Time
}

const (
	DefaultPlanCacheCapacity = 128
	DefaultPlanCacheTTL      = 10 * time.Minute
)

func NewMemoryPlanCache(capacity int, ttl time.Duration) *MemoryPlanCache {
	if capacity <= 0 {
		capacity = DefaultPlanCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultPlanCacheTTL
	}
	return &MemoryPlanCache{
		entries:  make(map[string]*planEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

func (c *MemoryPlanCache) Get(key string) (Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.stats.Misses++
		return Plan{}, false
	}
	if e.isExpired(c.now()) {
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.Misses++
		return Plan{}, false
	}
	c.stats.Hits++
	return e.plan, true
}

func (c *MemoryPlanCache) Set(key string, plan Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictNearestExpiry()
	}
	c.entries[key] = &planEntry{plan: plan, expiration: c.now().Add(c.ttl)}
	c.stats.Sets++
}

// evictNearestExpiry drops the entry that would expire first. Under a
// uniform TTL that is the oldest insertion. Caller holds the lock.
func (c *MemoryPlanCache) evictNearestExpiry() {
	var (
		victim string
		oldest time.Time
	)
	for key, e := range c.entries {
		if victim == "" || e.expiration.Before(oldest) {
			victim = key
			oldest = e.expiration
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

func (c *MemoryPlanCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryPlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*planEntry)
}

func (c *MemoryPlanCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// RunJanitor sweeps expired entries every interval until ctx ends. Lazy
// eviction already bounds memory; the janitor just keeps Stats honest
// for long-idle daemons.
func (c *MemoryPlanCache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryPlanCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}
