package corrective

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

type retriever struct {
	searcher search.Searcher
	topK     int
}

func newRetriever(searcher search.Searcher, cfg *Config) *retriever {
	return &retriever{searcher: searcher, topK: cfg.TopK}
}

// Retrieve returns a fresh evidence set for query. An empty set is a valid result.
func (r *retriever) Retrieve(ctx context.Context, query string) ([]evidence.Item, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("retrieval query cannot be empty")
	}
	items, err := r.searcher.Search(ctx, query, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", truncate(query, 80), err)
	}
	out := make([]evidence.Item, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Content) == "" {
			continue
		}
		out = append(out, it)
	}
	return search.Truncate(out, r.topK), nil
}
