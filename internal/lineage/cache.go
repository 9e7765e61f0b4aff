package lineage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"schemaevo/internal/domain"
)

// CachingProvider memoizes a LineageProvider across calls. Entries expire after
// the configured TTL or when explicitly invalidated, which is the signal
// callers send after lineage is written.
type CachingProvider struct {
	inner domain.LineageProvider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	flight  singleflight.Group
}

type cacheEntry struct {
	edges     []domain.LineageEdge
	fetchedAt time.Time
}

// CacheOption configures a CachingProvider.
type CacheOption func(*CachingProvider)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CachingProvider) { c.now = now }
}

// NewCachingProvider wraps inner with a TTL cache. A ttl <= 0 caches until
// invalidated.
func NewCachingProvider(inner domain.LineageProvider, ttl time.Duration, opts ...CacheOption) *CachingProvider {
	c := &CachingProvider{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.LineageProvider = (*CachingProvider)(nil)

// GetDownstreamEdges returns cached edges when fresh, fetching otherwise.
// Concurrent misses for the same dataset share one fetch, which is not
// cancelled when the caller that started it gives up.
func (c *CachingProvider) GetDownstreamEdges(ctx context.Context, datasetID string) ([]domain.LineageEdge, error) {
	c.mu.RLock()
	e, ok := c.entries[datasetID]
	c.mu.RUnlock()
	if ok && !c.expired(e) {
		return e.edges, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(datasetID, func() (any, error) {
		edges, err := c.inner.GetDownstreamEdges(fetchCtx, datasetID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[datasetID] = cacheEntry{edges: edges, fetchedAt: c.now()}
		c.mu.Unlock()
		return edges, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.LineageEdge), nil
	}
}

// Invalidate drops the cached edges of one dataset.
func (c *CachingProvider) Invalidate(datasetID string) {
	c.mu.Lock()
	delete(c.entries, datasetID)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CachingProvider) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *CachingProvider) expired(e cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.fetchedAt) >= c.ttl
}
