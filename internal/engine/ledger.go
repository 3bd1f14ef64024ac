package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/tabtree/internal/cachemanager"
	"github.com/zjrosen/tabtree/internal/host"
)

// ledger counts host events the engine caused itself and expects to see
// echoed back. Entries expire after the TTL so a lost echo cannot swallow a
// later genuine event for long.
type ledger struct {
	cache cachemanager.CacheManager[string, int]
	ttl   time.Duration
}

func newLedger(ttl time.Duration) *ledger {
	return &ledger{
		cache: cachemanager.NewInMemoryCacheManager[string, int]("expected-events", ttl, ttl),
		ttl:   ttl,
	}
}

func ledgerKey(tab host.TabID, kind host.EventKind) string {
	return fmt.Sprintf("%d:%s", tab, kind)
}

// Expect records one more pending echo for tab and kind.
func (l *ledger) Expect(ctx context.Context, tab host.TabID, kind host.EventKind) {
	k := ledgerKey(tab, kind)
	n, _ := l.cache.Get(ctx, k)
	l.cache.Set(ctx, k, n+1, l.ttl)
}

// Consume reports whether the event was expected, using up one entry.
func (l *ledger) Consume(ctx context.Context, tab host.TabID, kind host.EventKind) bool {
	k := ledgerKey(tab, kind)
	n, ok := l.cache.Get(ctx, k)
	if !ok || n <= 0 {
		return false
	}
	if n == 1 {
		_ = l.cache.Delete(ctx, k)
	} else {
		l.cache.Set(ctx, k, n-1, l.ttl)
	}
	return true
}

// Forget drops one expectation after a host call failed.
func (l *ledger) Forget(ctx context.Context, tab host.TabID, kind host.EventKind) {
	l.Consume(ctx, tab, kind)
}

// Pending returns the number of distinct outstanding keys.
func (l *ledger) Pending() int {
	return l.cache.Len()
}

func (l *ledger) Reset(ctx context.Context) {
	_ = l.cache.Flush(ctx)
}
