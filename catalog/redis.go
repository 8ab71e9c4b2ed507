package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache wraps a Source with a Redis-backed TTL cache, adapted from
// registry/service.go and registry/result_stream.go's rdb.Set/Get/Expire
// pattern: lookups check Redis first and fall back to the wrapped Source on
// a miss, repopulating Redis with the result.
type RedisCache struct {
	rdb    *redis.Client
	inner  Source
	ttl    time.Duration
	prefix string
}

var _ Source = (*RedisCache)(nil)

// NewRedisCache returns a Source that caches inner's lookups in rdb for
// ttl. A non-positive ttl defaults to 10 minutes, matching the teacher's
// resultStreamTTL fallback pattern.
func NewRedisCache(rdb *redis.Client, inner Source, ttl time.Duration) (*RedisCache, error) {
	if rdb == nil {
		return nil, errors.New("catalog: redis client is required")
	}
	if inner == nil {
		return nil, errors.New("catalog: inner source is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{rdb: rdb, inner: inner, ttl: ttl, prefix: "reelforge:catalog:"}, nil
}

func (c *RedisCache) cacheKey(provider, model string) string {
	return c.prefix + key(provider, model)
}

// Get implements Source, preferring the Redis cache over inner.
func (c *RedisCache) Get(ctx context.Context, provider, model string) (*Entry, bool, error) {
	cacheKey := c.cacheKey(provider, model)

	raw, err := c.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		if raw == negativeCacheSentinel {
			return nil, false, nil
		}
		var e Entry
		if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr == nil {
			return &e, true, nil
		}
		// Fall through to inner on a corrupt cache entry rather than fail.
	} else if !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("catalog: redis get %s: %w", cacheKey, err)
	}

	entry, ok, err := c.inner.Get(ctx, provider, model)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		_ = c.rdb.Set(ctx, cacheKey, negativeCacheSentinel, c.ttl).Err()
		return nil, false, nil
	}

	if encoded, jsonErr := json.Marshal(entry); jsonErr == nil {
		_ = c.rdb.Set(ctx, cacheKey, encoded, c.ttl).Err()
	}
	return entry, true, nil
}

// Invalidate drops a cached entry, for callers that know a catalog entry
// changed upstream and don't want to wait out the TTL.
func (c *RedisCache) Invalidate(ctx context.Context, provider, model string) error {
	if err := c.rdb.Del(ctx, c.cacheKey(provider, model)).Err(); err != nil {
		return fmt.Errorf("catalog: redis del: %w", err)
	}
	return nil
}

// negativeCacheSentinel marks a cached "not found" result so a repeatedly
// requested uncatalogued pair doesn't hit inner on every lookup.
const negativeCacheSentinel = "\x00absent"
