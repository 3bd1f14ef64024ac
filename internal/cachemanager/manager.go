// Package cachemanager wraps go-cache behind a typed interface. The engine
// uses it for short-lived bookkeeping (expected host events, pending parent
// associations) and the snapshot service for read-through listing.
package cachemanager

import (
	"context"
	"time"
)

type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	// Take returns and removes the value.
	Take(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Len() int
	Flush(ctx context.Context) error
}
