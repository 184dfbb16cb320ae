package cache

import (
	"context"
	"time"
)

// LayeredCache puts a small process-local LRU (L1) in front of Redis (L2). Writes go through to
// Redis; L1 entries live at most memTTL so replicas converge after an invalidation.
type LayeredCache struct {
	mem     *MemoryCache
	redis   *RedisCache
	memSize int
	memTTL  time.Duration
}

var _ Service = (*LayeredCache)(nil)

func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{redis: redisCache, memSize: 1000, memTTL: time.Minute}
	for _, opt := range opts {
		opt(lc)
	}
	lc.mem = NewMemoryCache(WithMemoryMaxSize(lc.memSize))
	return lc
}

func (lc *LayeredCache) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > lc.memTTL {
		return lc.memTTL
	}
	return ttl
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.redis.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	return lc.mem.Set(ctx, key, data, lc.l1TTL(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	var data []byte
	if err := lc.redis.Get(ctx, key, &data); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, data, lc.memTTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.mem.DeleteByPattern(ctx, pattern)
	return lc.redis.DeleteByPattern(ctx, pattern)
}

// TryLock always goes to Redis; a process-local lock would not exclude other replicas.
func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}
