// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps monthly counter keys around long enough to survive the
// whole period plus a grace window for late invoice queries.
const counterTTL = 62 * 24 * time.Hour

// =============================================================================
// COUNTER STORE
// =============================================================================

// CounterStore tracks cumulative token counts per period key.
type CounterStore interface {
	// Incr adds n to the counter and returns the new total.
	Incr(ctx context.Context, key string, n int64) (int64, error)

	// Get returns the current total (0 for unknown keys).
	Get(ctx context.Context, key string) (int64, error)

	// Seed sets the counter to n only when the key is absent, so durable
	// totals can be restored without clobbering a live counter.
	Seed(ctx context.Context, key string, n int64) error
}

// =============================================================================
// IN-MEMORY COUNTER
// =============================================================================

// MemoryCounter is the single-instance CounterStore.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter creates an empty in-memory counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

// Incr implements CounterStore.
func (c *MemoryCounter) Incr(_ context.Context, key string, n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] += n
	return c.counts[key], nil
}

// Get implements CounterStore.
func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], nil
}

// Seed implements CounterStore.
func (c *MemoryCounter) Seed(_ context.Context, key string, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[key]; !ok {
		c.counts[key] = n
	}
	return nil
}

// =============================================================================
// REDIS COUNTER
// =============================================================================

// RedisCounter shares counters across instances via Redis.
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCounter creates a counter store on an existing Redis client.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: "promptlab:quota"}
}

// Incr implements CounterStore using INCRBY with a TTL set in the same
// pipeline round trip.
func (c *RedisCounter) Incr(ctx context.Context, key string, n int64) (int64, error) {
	fullKey := c.prefix + ":" + key

	pipe := c.rdb.Pipeline()
	incr := pipe.IncrBy(ctx, fullKey, n)
	pipe.Expire(ctx, fullKey, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Seed implements CounterStore via SETNX. A restarting instance never
// overwrites a counter other instances are already incrementing.
func (c *RedisCounter) Seed(ctx context.Context, key string, n int64) error {
	return c.rdb.SetNX(ctx, c.prefix+":"+key, n, counterTTL).Err()
}

// Get implements CounterStore.
func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, c.prefix+":"+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
