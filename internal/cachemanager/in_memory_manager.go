package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/tabtree/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// NewInMemoryCacheManager creates a go-cache backed manager. useCase tags
// log lines so ledger and listing caches can be told apart.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// InMemoryCacheManager is the concrete implementation of the CacheManager interface
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// Get retrieves an item from the cache by its key
func (c *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	value, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "cache", c.useCase, "key", key)
		return zero, false
	}

	log.Debug(log.CatCache, "cache hit", "cache", c.useCase, "key", key)
	return v, true
}

func (c *InMemoryCacheManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	values := make(map[K]V, len(keys))
	var missing []K
	for _, key := range keys {
		v, ok := c.Get(ctx, key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}

	if len(values) == 0 {
		return nil, false
	}
	if len(missing) > 0 {
		log.Debug(log.CatCache, "partial cache miss", "cache", c.useCase, "missing", missing)
	}
	return values, true
}

// GetWithRefresh retrieves an item and, when found, extends its ttl.
func (c *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	value, found := c.Get(ctx, key)
	if !found {
		return value, found
	}

	c.Set(ctx, key, value, ttl)
	return value, found
}

// Take retrieves an item and removes it.
func (c *InMemoryCacheManager[K, V]) Take(ctx context.Context, key K) (V, bool) {
	value, found := c.Get(ctx, key)
	if found {
		c.cache.Delete(string(key))
	}
	return value, found
}

// Set sets a value in the cache with a key and TTL
func (c *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete removes values by key
func (c *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	return nil
}

// Len counts unexpired items.
func (c *InMemoryCacheManager[K, V]) Len() int {
	n := 0
	for range c.cache.Items() {
		n++
	}
	return n
}

// Flush removes every item.
func (c *InMemoryCacheManager[K, V]) Flush(_ context.Context) error {
	c.cache.Flush()
	return nil
}
