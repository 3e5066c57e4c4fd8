package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/runlog"
)

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, store runlog.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 3; i++ {
		rec := &runlog.Record{
			SessionID:       fmt.Sprintf("sess-%d", i),
			Question:        fmt.Sprintf("question %d", i),
			FinalQuery:      fmt.Sprintf("query %d", i),
			Status:          "accepted",
			Verified:        true,
			Answer:          "answer",
			Iterations:      i + 1,
			EvidenceSources: []string{"https://a.example", "kb://doc#0"},
			StartedAt:       base.Add(time.Duration(i) * time.Minute),
			DurationMS:      int64(100 * (i + 1)),
		}
		require.NoError(t, store.Save(ctx, rec))
		require.NotEmpty(t, rec.ID)
		ids = append(ids, rec.ID)
	}

	got, err := store.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "question 1", got.Question)
	assert.Equal(t, 2, got.Iterations)
	assert.True(t, got.Verified)
	assert.Equal(t, []string{"https://a.example", "kb://doc#0"}, got.EvidenceSources)
	assert.True(t, got.StartedAt.Equal(base.Add(time.Minute)), "started_at round trip: %v", got.StartedAt)

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	// Saving again with the same ID updates the outcome.
	got.Status = "failed"
	got.Failure = "iterations_exhausted"
	got.Verified = false
	require.NoError(t, store.Save(ctx, got))
	updated, err := store.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "failed", updated.Status)
	assert.Equal(t, "iterations_exhausted", updated.Failure)
	assert.False(t, updated.Verified)

	_, err = store.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, errorskg.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, nil), errorskg.ErrInvalidInput)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.Clear(context.Background()))
	list, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewSQLStoreRejectsBadTableName(t *testing.T) {
	_, err := newSQLStore(context.Background(), nil, "runs; DROP TABLE x", sqliteDialect)
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)
}

// TestPostgresStore requires a running PostgreSQL server; set POSTGRES_HOST to run it.
func TestPostgresStore(t *testing.T) {
	if os.Getenv("POSTGRES_HOST") == "" {
		t.Skip("POSTGRES_HOST not set, skipping PostgreSQL store tests")
	}
	cfg := PostgresConfigFromEnv()
	cfg.Table = "veriflow_runs_test"
	store, err := NewPostgresStore(context.Background(), cfg)
	if err != nil {
		t.Skipf("Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	require.NoError(t, store.Clear(context.Background()))

	exerciseStore(t, store)
}

// TestMongoStore requires a running MongoDB server; set MONGODB_URI to run it.
func TestMongoStore(t *testing.T) {
	if os.Getenv("MONGODB_URI") == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB store tests")
	}
	cfg := MongoConfigFromEnv()
	cfg.Database = "veriflow_test"
	cfg.Collection = "runs_test"
	store, err := NewMongoStore(context.Background(), cfg)
	if err != nil {
		t.Skipf("Failed to connect to MongoDB: %v", err)
	}
	defer store.Close()
	require.NoError(t, store.Clear(context.Background()))

	exerciseStore(t, store)
}

// TestRedisStore requires a running Redis server; set REDIS_ADDR to run it.
func TestRedisStore(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis store tests")
	}
	cfg := RedisConfigFromEnv()
	cfg.Prefix = fmt.Sprintf("veriflow:test:%d:", time.Now().UnixNano())
	store := NewRedisStore(cfg)
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("Failed to connect to Redis: %v", err)
	}

	exerciseStore(t, store)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("REDIS_TTL", "90s")
	t.Setenv("MONGODB_COLLECTION", "audit")

	assert.Equal(t, 6543, PostgresConfigFromEnv().Port)
	assert.Equal(t, 90*time.Second, RedisConfigFromEnv().TTL)
	assert.Equal(t, "audit", MongoConfigFromEnv().Collection)

	t.Setenv("POSTGRES_PORT", "not-a-number")
	assert.Equal(t, 5432, PostgresConfigFromEnv().Port)
}
