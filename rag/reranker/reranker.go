package reranker

import (
	"context"
	"sort"

	"github.com/sweetpotato0/veriflow/vector"
)

// Query carries both forms of a search query: text for rerankers that read
// documents, the embedding for those that compare vectors.
type Query struct {
	Text   string
	Vector []float32
}

// Reranker reorders vector-store matches and keeps at most limit of them.
// A non-positive limit keeps every match.
type Reranker interface {
	Rank(ctx context.Context, query Query, matches []vector.Match, limit int) ([]vector.Match, error)
}

// CosineReranker sorts matches by cosine similarity with the query vector.
type CosineReranker struct{}

// NewCosineReranker creates a reranker based on cosine similarity.
func NewCosineReranker() *CosineReranker {
	return &CosineReranker{}
}

// Rank implements the Reranker interface.
func (c *CosineReranker) Rank(ctx context.Context, query Query, matches []vector.Match, limit int) ([]vector.Match, error) {
	results := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		results = append(results, vector.Match{Embedding: m.Embedding, Score: Similarity(query.Vector, m)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return Truncate(results, limit), nil
}

// Similarity recomputes a match score against queryVector, keeping the stored
// score when the dimensions do not line up.
func Similarity(queryVector []float32, m vector.Match) float32 {
	if m.Embedding != nil && len(m.Embedding.Vector) > 0 && len(queryVector) == len(m.Embedding.Vector) {
		return vector.CosineSimilarity(queryVector, m.Embedding.Vector)
	}
	return m.Score
}

// Truncate keeps the first limit matches.
func Truncate(matches []vector.Match, limit int) []vector.Match {
	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}
