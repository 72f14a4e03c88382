package subscriptions

import (
	"context"

	"github.com/platinummonkey/entitle/pkg/cache"
)

// CachedStore serves Get from a short-TTL snapshot cache
type CachedStore struct {
	cache *cache.Cache[string, *Record]
}

// NewCachedStore wraps next with a read-through cache
func NewCachedStore(next Store, cfg cache.Config) *CachedStore {
	return &CachedStore{cache: cache.New(cfg, next.Get)}
}

// Get returns a possibly stale snapshot of the subject's record
func (c *CachedStore) Get(ctx context.Context, subjectID string) (*Record, error) {
	return c.cache.Get(ctx, subjectID)
}

// Invalidate drops the cached record for subjectID
func (c *CachedStore) Invalidate(subjectID string) {
	c.cache.Invalidate(subjectID)
}

// Stats returns cache statistics
func (c *CachedStore) Stats() cache.Stats {
	return c.cache.Stats()
}
