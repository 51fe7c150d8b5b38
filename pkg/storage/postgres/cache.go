package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stocklane/stocklane/pkg/observability"
)

// Cache tier labels used in metrics.
const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// TieredCache is a two-tier read cache: an in-process expirable LRU in
// front of Redis. Values are stored as JSON in both tiers. A Redis
// outage degrades to L1-only operation; cache errors never surface to
// callers of Get.
type TieredCache struct {
	l1      *lru.LRU[string, []byte]
	redis   *redis.Client
	ttl     time.Duration
	prefix  string
	metrics *observability.Metrics
}

// NewTieredCache creates a cache holding up to l1Size entries in
// memory, with the given TTL applied to both tiers. metrics may be
// nil. prefix namespaces the Redis keys.
func NewTieredCache(redisClient *redis.Client, l1Size int, ttl time.Duration, prefix string, metrics *observability.Metrics) *TieredCache {
	if l1Size <= 0 {
		l1Size = 1024
	}
	if prefix == "" {
		prefix = "cache"
	}
	return &TieredCache{
		l1:      lru.NewLRU[string, []byte](l1Size, nil, ttl),
		redis:   redisClient,
		ttl:     ttl,
		prefix:  prefix,
		metrics: metrics,
	}
}

// Get looks up key and unmarshals the cached value into dest. The
// boolean reports whether a usable value was found. L2 hits are
// promoted to L1.
func (c *TieredCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if data, ok := c.l1.Get(key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			c.hit(TierL1)
			return true
		}
		c.l1.Remove(key)
	}
	c.miss(TierL1)

	if c.redis == nil {
		return false
	}

	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		c.miss(TierL2)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Corrupt entry, drop it.
		c.redis.Del(ctx, c.redisKey(key))
		c.miss(TierL2)
		return false
	}

	c.hit(TierL2)
	c.l1.Add(key, data)
	return true
}

// Set stores value under key in both tiers. Marshal or Redis errors
// are returned but leave the caller's write path unaffected.
func (c *TieredCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling cache value: %w", err)
	}

	c.l1.Add(key, data)

	if c.redis != nil {
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis set failed: %w", err)
		}
	}
	return nil
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.l1.Remove(key)
	}
	if c.redis != nil && len(keys) > 0 {
		redisKeys := make([]string, len(keys))
		for i, key := range keys {
			redisKeys[i] = c.redisKey(key)
		}
		c.redis.Del(ctx, redisKeys...)
	}
}

// Purge clears the in-memory tier. Redis entries age out via TTL.
func (c *TieredCache) Purge() {
	c.l1.Purge()
}

func (c *TieredCache) redisKey(key string) string {
	return c.prefix + ":" + key
}

func (c *TieredCache) hit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *TieredCache) miss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}
