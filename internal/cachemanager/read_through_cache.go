package cachemanager

import (
	"context"
	"sync"
	"time"
)

// ReadThroughCache serves reads from the cache and loads through on a miss.
// A load that overlaps an Invalidate of its key is returned to the caller
// but not stored, so a snapshot listing read while a snapshot was written or
// pruned never outlives that write.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache  CacheManager[K, V]
	load   func(ctx context.Context, input I) (V, error)
	bypass bool

	mu  sync.Mutex
	gen map[K]uint64
}

// NewReadThroughCache wraps cache around load. With bypass set every Get
// calls load and nothing is stored.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	bypass bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:  cache,
		load:   load,
		bypass: bypass,
		gen:    make(map[K]uint64),
	}
}

func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.bypass {
		return r.load(ctx, input)
	}
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	r.mu.Lock()
	started := r.gen[key]
	r.mu.Unlock()

	value, err := r.load(ctx, input)
	if err != nil {
		return value, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[key] == started {
		r.cache.Set(ctx, key, value, ttl)
	}
	return value, nil
}

// Invalidate drops cached keys so the next Get loads again. Loads already
// in flight for these keys will not store their result.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, keys ...K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.gen[key]++
	}
	_ = r.cache.Delete(ctx, keys...)
}
