package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/veriflow/vector"
)

// Store implements vector.Store using in-memory storage
type Store struct {
	embeddings map[string]*vector.Embedding
	mu         sync.RWMutex
}

var _ vector.Store = (*Store)(nil)

// New creates a new in-memory vector store
func New() *Store {
	return &Store{
		embeddings: make(map[string]*vector.Embedding),
	}
}

// Upsert adds or replaces embeddings. The batch is validated before any write.
func (s *Store) Upsert(ctx context.Context, embeddings ...*vector.Embedding) error {
	for _, emb := range embeddings {
		if emb == nil {
			return fmt.Errorf("embedding cannot be nil")
		}
		if emb.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(emb.Vector) == 0 {
			return fmt.Errorf("embedding %s: vector cannot be empty", emb.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		s.embeddings[emb.ID] = emb
	}
	return nil
}

// Search finds embeddings similar to the query vector. Ties are broken by ID
// so results are deterministic.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]vector.Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	results := make([]vector.Match, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		if len(emb.Vector) != len(queryVector) {
			continue
		}
		results = append(results, vector.Match{
			Embedding: emb,
			Score:     vector.CosineSimilarity(queryVector, emb.Vector),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Embedding.ID < results[j].Embedding.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of embeddings
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// Clear removes all embeddings
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}
