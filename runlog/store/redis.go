package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/runlog"
)

// RedisStore implements runlog.Store using Redis. Records are JSON values
// indexed by a sorted set scored by start time.
type RedisStore struct {
	client *redis.Client
	prefix string // Key prefix for namespacing
	ttl    time.Duration
}

var _ runlog.Store = (*RedisStore)(nil)

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        `yaml:"addr"`     // Redis server address (e.g., "localhost:6379")
	Password string        `yaml:"password"` // Redis password (if any)
	DB       int           `yaml:"db"`       // Redis database number
	Prefix   string        `yaml:"prefix"`   // Key prefix for namespacing
	TTL      time.Duration `yaml:"ttl"`      // Time-to-live for keys (0 means no expiration)
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "veriflow:",
	}
}

// NewRedisClient builds a go-redis client from config.
func NewRedisClient(config *RedisConfig) *redis.Client {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
}

// NewRedisStore creates a new Redis-based run store
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return NewRedisStoreWithClient(NewRedisClient(config), config.Prefix, config.TTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + "run:" + id }
func (s *RedisStore) indexKey() string          { return s.prefix + "runs" }

// Save stores rec and indexes it by start time.
func (s *RedisStore) Save(ctx context.Context, rec *runlog.Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	runlog.Prepare(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.StartedAt.UnixMilli()), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store run in Redis: %w", err)
	}
	return nil
}

// Get returns the record with id.
func (s *RedisStore) Get(ctx context.Context, id string) (*runlog.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	var rec runlog.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &rec, nil
}

// List returns up to limit records, newest first. Index entries whose record
// expired are pruned.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*runlog.Record, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(runlog.Limit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}
	records := make([]*runlog.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, errorskg.ErrNotFound) {
				s.client.ZRem(ctx, s.indexKey(), id)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
