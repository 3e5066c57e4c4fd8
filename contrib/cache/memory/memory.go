package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

// Cache implements search.Cache on top of go-cache.
type Cache struct {
	store *gocache.Cache
}

var _ search.Cache = (*Cache)(nil)

// New creates a cache whose entries expire after defaultTTL unless Set passes
// its own ttl. Expired entries are purged every cleanup interval.
func New(defaultTTL, cleanup time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Cache{store: gocache.New(defaultTTL, cleanup)}
}

// Get implements search.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]evidence.Item, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	items, ok := v.([]evidence.Item)
	if !ok {
		c.store.Delete(key)
		return nil, false, nil
	}
	return evidence.Clone(items), true, nil
}

// Set implements search.Cache.
func (c *Cache) Set(_ context.Context, key string, items []evidence.Item, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, evidence.Clone(items), ttl)
	return nil
}

// Len returns the number of cached entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.store.Flush()
}
