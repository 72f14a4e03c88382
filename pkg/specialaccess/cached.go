package specialaccess

import (
	"context"

	"github.com/platinummonkey/entitle/pkg/cache"
)

type pairKey struct {
	subjectID      string
	organizationID string
}

// CachedStore serves Get from a short-TTL snapshot cache. A revoked override
// may keep applying for up to one TTL.
type CachedStore struct {
	cache *cache.Cache[pairKey, *Override]
}

// NewCachedStore wraps next with a read-through cache
func NewCachedStore(next Store, cfg cache.Config) *CachedStore {
	return &CachedStore{
		cache: cache.New(cfg, func(ctx context.Context, k pairKey) (*Override, error) {
			return next.Get(ctx, k.subjectID, k.organizationID)
		}),
	}
}

// Get returns a possibly stale snapshot of the pair's override
func (c *CachedStore) Get(ctx context.Context, subjectID, organizationID string) (*Override, error) {
	return c.cache.Get(ctx, pairKey{subjectID, organizationID})
}

// Invalidate drops the cached override for the pair
func (c *CachedStore) Invalidate(subjectID, organizationID string) {
	c.cache.Invalidate(pairKey{subjectID, organizationID})
}

// Stats returns cache statistics
func (c *CachedStore) Stats() cache.Stats {
	return c.cache.Stats()
}
