package mmr

import (
	"context"
	"math"

	"github.com/sweetpotato0/veriflow/rag/reranker"
	"github.com/sweetpotato0/veriflow/vector"
)

// Reranker implements Max Marginal Relevance so near-duplicate chunks do not
// crowd out the rest of the evidence.
type Reranker struct {
	// Lambda weighs relevance against novelty: 1 ignores diversity.
	Lambda float32
}

var _ reranker.Reranker = (*Reranker)(nil)

// New returns an MMR reranker with the given lambda, or 0.7 when it is outside (0, 1].
func New(lambda float32) *Reranker {
	if lambda <= 0 || lambda > 1 {
		lambda = 0.7
	}
	return &Reranker{Lambda: lambda}
}

// Rank implements reranker.Reranker.
func (m *Reranker) Rank(ctx context.Context, query reranker.Query, matches []vector.Match, limit int) ([]vector.Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	type item struct {
		match vector.Match
		score float32
	}
	remaining := make([]item, len(matches))
	for i, match := range matches {
		remaining[i] = item{match: match, score: reranker.Similarity(query.Vector, match)}
	}

	selected := make([]vector.Match, 0, len(matches))
	for len(remaining) > 0 && (limit <= 0 || len(selected) < limit) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bestIdx := -1
		bestScore := float32(math.Inf(-1))
		for idx, candidate := range remaining {
			penalty := float32(0)
			for _, picked := range selected {
				penalty = max(penalty, overlap(candidate.match, picked))
			}
			score := m.Lambda*candidate.score - (1-m.Lambda)*penalty
			if score > bestScore {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx == -1 {
			break
		}
		best := remaining[bestIdx]
		selected = append(selected, vector.Match{Embedding: best.match.Embedding, Score: best.score})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}

func overlap(a, b vector.Match) float32 {
	if a.Embedding == nil || b.Embedding == nil {
		return 0
	}
	if len(a.Embedding.Vector) == 0 || len(a.Embedding.Vector) != len(b.Embedding.Vector) {
		return 0
	}
	return vector.CosineSimilarity(a.Embedding.Vector, b.Embedding.Vector)
}
