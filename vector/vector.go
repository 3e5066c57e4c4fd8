package vector

import (
	"context"
	"math"
)

// Embedding is a stored vector plus the chunk it was computed from.
type Embedding struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Embedding *Embedding
	Score     float32
}

// Store defines vector storage and similarity search.
type Store interface {
	// Upsert adds or replaces embeddings by ID.
	Upsert(ctx context.Context, embeddings ...*Embedding) error

	// Search returns up to topK embeddings most similar to the query vector,
	// best first.
	Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error)

	// Count returns the number of embeddings
	Count(ctx context.Context) (int, error)

	// Clear removes all embeddings
	Clear(ctx context.Context) error
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
