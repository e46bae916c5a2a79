package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterCache mirrors the durable child counters for fast reads. It is
// never authoritative: values may lag or be missing, but they are never
// ahead of the durable store. A miss is repaired from the durable value by
// the reader.
type CounterCache interface {
	// Get returns the cached counter value; the bool reports a cache hit.
	Get(ctx context.Context, key string) (int64, bool, error)
	// Set overwrites the cached value, last writer wins.
	Set(ctx context.Context, key string, value int64) error
	// Del drops the entry so the next reader repairs from the durable store.
	Del(ctx context.Context, key string) error
}

// RedisCounterCache implements CounterCache on a shared Redis client. The
// client is constructed once at startup and passed by reference; the cache
// never owns or reinitializes it.
type RedisCounterCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewRedisCounterCache creates a counter cache. A zero ttl means entries
// never expire; any positive ttl is purely a memory-management policy, an
// expired entry behaves exactly like a miss.
func NewRedisCounterCache(rc *redis.Client, ttl time.Duration) *RedisCounterCache {
	return &RedisCounterCache{rc: rc, ttl: ttl}
}

func (c *RedisCounterCache) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rc.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read counter cache key %s: %w", key, err)
	}

	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil || parsed < 0 {
		// Corrupt entry, drop it and report a miss so the durable value wins
		_ = c.rc.Del(ctx, key).Err()
		return 0, false, nil
	}

	return parsed, true, nil
}

func (c *RedisCounterCache) Set(ctx context.Context, key string, value int64) error {
	if err := c.rc.Set(ctx, key, strconv.FormatInt(value, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write counter cache key %s: %w", key, err)
	}
	return nil
}

func (c *RedisCounterCache) Del(ctx context.Context, key string) error {
	if err := c.rc.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete counter cache key %s: %w", key, err)
	}
	return nil
}

// NoopCounterCache reports a miss on every read. Used when caching is
// disabled; the sequencer then always reads the durable counter.
type NoopCounterCache struct{}

func (NoopCounterCache) Get(ctx context.Context, key string) (int64, bool, error) {
	return 0, false, nil
}

func (NoopCounterCache) Set(ctx context.Context, key string, value int64) error { return nil }

func (NoopCounterCache) Del(ctx context.Context, key string) error { return nil }

// ApplicationCounterKey builds the cache key for an application's chat counter
func ApplicationCounterKey(prefix string, applicationID uint) string {
	return fmt.Sprintf("%scounter:application:%d", prefix, applicationID)
}

// ChatCounterKey builds the cache key for a chat's message counter
func ChatCounterKey(prefix string, chatID uint) string {
	return fmt.Sprintf("%scounter:chat:%d", prefix, chatID)
}
