package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/pkg/metrics"
)

// Cache stores search results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]evidence.Item, bool, error)
	Set(ctx context.Context, key string, items []evidence.Item, ttl time.Duration) error
}

// Cached serves repeated queries from a cache. Errors are never cached, and a
// broken cache degrades to direct searches.
type Cached struct {
	next   Searcher
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next with cache. A zero ttl leaves expiry to the cache backend.
func NewCached(next Searcher, cache Cache, ttl time.Duration) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logging.WithComponent("search_cache"),
	}
}

// Search implements Searcher.
func (c *Cached) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	key := CacheKey(query, limit)
	items, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("search cache read failed", "error", err)
	} else if ok {
		metrics.ObserveCache(true)
		c.logger.Debug("search cache hit", "query", logging.Trim(query, 80))
		return evidence.Clone(items), nil
	}
	metrics.ObserveCache(false)

	items, err = c.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, items, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", "error", err)
	}
	return items, nil
}

// CacheKey derives a stable key from the normalised query and limit.
func CacheKey(query string, limit int) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", limit, normalized)))
	return "search:" + hex.EncodeToString(sum[:])
}
