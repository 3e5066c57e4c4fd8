package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

// Cache implements search.Cache with JSON values in Redis.
type Cache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

var _ search.Cache = (*Cache)(nil)

// New wraps client. Keys are namespaced with prefix; defaultTTL applies when
// Set is called without a ttl (0 keeps entries until evicted).
func New(client *redis.Client, prefix string, defaultTTL time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// Get implements search.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]evidence.Item, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var items []evidence.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached results: %w", err)
	}
	return items, true, nil
}

// Set implements search.Cache.
func (c *Cache) Set(ctx context.Context, key string, items []evidence.Item, ttl time.Duration) error {
	if items == nil {
		items = []evidence.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
