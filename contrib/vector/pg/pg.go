package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/sweetpotato0/veriflow/vector"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorStore implements vector.Store using PostgreSQL with the pgvector
// extension. Similarity is cosine, computed by the database.
type PGVectorStore struct {
	db        *sql.DB
	ownsDB    bool
	dimension int
	tableName string
}

var _ vector.Store = (*PGVectorStore)(nil)

// NewPGVectorStore connects with a lib/pq DSN and prepares table for vectors
// of the given dimension.
func NewPGVectorStore(ctx context.Context, dsn, table string, dimension int) (*PGVectorStore, error) {
	if err := checkSettings(table, dimension); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s, err := NewWithDB(ctx, db, table, dimension)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewWithDB uses an existing connection pool; Close leaves it open.
func NewWithDB(ctx context.Context, db *sql.DB, table string, dimension int) (*PGVectorStore, error) {
	if err := checkSettings(table, dimension); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	s := &PGVectorStore{db: db, dimension: dimension, tableName: table}
	if err := s.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}
	return s, nil
}

func checkSettings(table string, dimension int) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return nil
}

// setup enables pgvector and creates the chunk table.
func (s *PGVectorStore) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(512) PRIMARY KEY,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Upsert adds or replaces embeddings in one transaction.
func (s *PGVectorStore) Upsert(ctx context.Context, embeddings ...*vector.Embedding) error {
	for _, emb := range embeddings {
		if emb == nil {
			return fmt.Errorf("embedding cannot be nil")
		}
		if emb.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(emb.Vector) != s.dimension {
			return fmt.Errorf("embedding %s: dimension mismatch: expected %d, got %d", emb.ID, s.dimension, len(emb.Vector))
		}
	}
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
	INSERT INTO %s (id, text, metadata, embedding)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		meta, err := encodeMetadata(emb.Metadata)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", emb.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, emb.ID, emb.Text, meta, pgvector.NewVector(emb.Vector)); err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", emb.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the topK nearest embeddings by cosine distance, best first.
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]vector.Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, text, metadata, embedding, 1 - (embedding <=> $1) AS score
	FROM %s
	ORDER BY embedding <=> $1, id
	LIMIT $2
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]vector.Match, 0, topK)
	for rows.Next() {
		var (
			id, text string
			meta     []byte
			vec      pgvector.Vector
			score    float64
		)
		if err := rows.Scan(&id, &text, &meta, &vec, &score); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		metadata, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", id, err)
		}
		matches = append(matches, vector.Match{
			Embedding: &vector.Embedding{ID: id, Text: text, Vector: vec.Slice(), Metadata: metadata},
			Score:     float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return matches, nil
}

// Clear removes all embeddings
func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// Count returns the number of embeddings
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection when the store opened it.
func (s *PGVectorStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}
