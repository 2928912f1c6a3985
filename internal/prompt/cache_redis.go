// SPDX-License-Identifier: MIT

package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/log"
)

const redisPlanPrefix = "cratedig:plan:"

// RedisPlanCache shares rendered plans across daemon replicas. A cache
// problem is never fatal: failed reads count as misses, failed writes are
// dropped with a warning.
type RedisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	stats  struct {
		hits      atomic.Int64
		misses    atomic.Int64
		sets      atomic.Int64
		evictions atomic.Int64
	}
}

// RedisConfig holds the connection settings for a shared plan cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisPlanCache(config RedisConfig, ttl time.Duration) (*RedisPlanCache, error) {
	if ttl <= 0 {
		ttl = DefaultPlanCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisPlanCache{
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("prompt"),
	}, nil
}

func (c *RedisPlanCache) Get(key string) (Plan, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := c.client.Get(ctx, redisPlanPrefix+key).Bytes()
	if err == redis.Nil {
		c.stats.misses.Add(1)
		return Plan{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		c.stats.misses.Add(1)
		return Plan{}, false
	}

	var plan Plan
	if err := json.Unmarshal(val, &plan); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cached plan undecodable")
		c.stats.misses.Add(1)
		return Plan{}, false
	}
	c.stats.hits.Add(1)
	return plan, true
}

func (c *RedisPlanCache) Set(key string, plan Plan) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(plan)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("plan marshal failed")
		return
	}
	if err := c.client.Set(ctx, redisPlanPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	c.stats.sets.Add(1)
}

func (c *RedisPlanCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, redisPlanPrefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
		return
	}
	c.stats.evictions.Add(1)
}

// Clear removes this daemon's plan keys, leaving other tenants of the
// database alone.
func (c *RedisPlanCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, redisPlanPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", iter.Val()).Msg("redis delete failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
}

func (c *RedisPlanCache) Stats() CacheStats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var size int
	iter := c.client.Scan(ctx, 0, redisPlanPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size++
	}

	return CacheStats{
		Hits:        c.stats.hits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		Evictions:   c.stats.evictions.Load(),
		CurrentSize: size,
	}
}

func (c *RedisPlanCache) Close() error {
	return c.client.Close()
}
