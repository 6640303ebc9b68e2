package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

// DefaultDividendTTL is the lifetime of a cached dividend aggregate
const DefaultDividendTTL = 120 * time.Second

// CacheObserver is notified of cache outcomes
type CacheObserver interface {
	CacheHit()
	CacheMiss()
	CacheError(op string)
}

// DividendCache is a cache-aside store for dividend aggregates.
// Every backend or codec failure is soft: Get reports a miss and Set is a no-op.
type DividendCache struct {
	redis    *RedisCache
	ttl      time.Duration
	logger   *logging.Logger
	observer CacheObserver
}

// NewDividendCache creates a new dividend cache
func NewDividendCache(rc *RedisCache, ttl time.Duration, logger *logging.Logger) *DividendCache {
	if ttl <= 0 {
		ttl = DefaultDividendTTL
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &DividendCache{
		redis:  rc,
		ttl:    ttl,
		logger: logger.WithField("component", "dividend_cache"),
	}
}

// SetObserver attaches an observer for hit, miss and error counts
func (c *DividendCache) SetObserver(observer CacheObserver) {
	c.observer = observer
}

// Get returns the cached aggregate for key with ServedFromCache forced true.
// Returns (nil, false) on a miss or any failure.
func (c *DividendCache) Get(ctx context.Context, key string) (*types.DividendAggregate, bool) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.notifyMiss()
			return nil, false
		}
		c.softFailure("get", key, err)
		return nil, false
	}

	var agg types.DividendAggregate
	if err := json.Unmarshal([]byte(data), &agg); err != nil {
		c.softFailure("decode", key, err)
		return nil, false
	}

	agg.ServedFromCache = true
	if c.observer != nil {
		c.observer.CacheHit()
	}
	return &agg, true
}

// Set stores the aggregate under key using the default TTL
func (c *DividendCache) Set(ctx context.Context, key string, agg *types.DividendAggregate) {
	c.SetWithTTL(ctx, key, agg, c.ttl)
}

// SetWithTTL stores the aggregate under key. The stored copy is always marked cached.
func (c *DividendCache) SetWithTTL(ctx context.Context, key string, agg *types.DividendAggregate, ttl time.Duration) {
	if agg == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	stored := *agg
	stored.ServedFromCache = true

	data, err := json.Marshal(stored)
	if err != nil {
		c.softFailure("encode", key, err)
		return
	}

	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		c.softFailure("set", key, err)
	}
}

// TTL returns the default TTL
func (c *DividendCache) TTL() time.Duration {
	return c.ttl
}

// Close closes the backend connection
func (c *DividendCache) Close() error {
	return c.redis.Close()
}

func (c *DividendCache) notifyMiss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

func (c *DividendCache) softFailure(op, key string, err error) {
	c.logger.WithFields(map[string]interface{}{
		"key": key,
		"op":  op,
	}).WithError(apperrors.NewCacheError(op, err)).Warn("cache operation failed, continuing without cache")

	if c.observer != nil {
		c.observer.CacheError(op)
	}
	if op == "get" || op == "decode" {
		c.notifyMiss()
	}
}
