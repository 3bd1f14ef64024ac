package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ledgerKey string

func TestInMemoryCacheManager_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[ledgerKey, int]("ledger", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, "7:moved", 2, time.Minute)

	got, ok := cache.Get(ctx, "7:moved")
	require.True(t, ok)
	require.Equal(t, 2, got)

	_, ok = cache.Get(ctx, "7:removed")
	require.False(t, ok)
}

func TestInMemoryCacheManager_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, string]("ledger", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, "k", "v", 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, cache.Len())
}

func TestInMemoryCacheManager_Take(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("pending-parent", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "k", 1, time.Minute)

	v, ok := cache.Take(ctx, "k")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = cache.Take(ctx, "k")
	require.False(t, ok)
}

func TestInMemoryCacheManager_GetMultiple(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("multi", DefaultExpiration, DefaultCleanupInterval)

	_, ok := cache.GetMultiple(ctx, nil)
	require.False(t, ok)

	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "b", 2, time.Minute)

	got, ok := cache.GetMultiple(ctx, []string{"a", "b", "c"})
	require.True(t, ok)
	require.Equal(t, map[string]int{"a": 1, "b": 2}, got)

	_, ok = cache.GetMultiple(ctx, []string{"x"})
	require.False(t, ok)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("refresh", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "a", 1, 30*time.Millisecond)

	v, ok := cache.GetWithRefresh(ctx, "a", time.Minute)
	require.True(t, ok)
	require.Equal(t, 1, v)

	time.Sleep(50 * time.Millisecond)
	_, ok = cache.Get(ctx, "a")
	require.True(t, ok, "refresh should have extended the ttl")
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, int]("flush", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "b", 2, time.Minute)
	cache.Set(ctx, "c", 3, time.Minute)

	require.NoError(t, cache.Delete(ctx, "a"))
	require.Equal(t, 2, cache.Len())
	require.NoError(t, cache.Flush(ctx))
	require.Zero(t, cache.Len())
}
