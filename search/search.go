package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/rag/preprocess"
	"golang.org/x/time/rate"
)

// Searcher is the search collaborator: it maps a query to an ordered list of
// evidence items. An empty result is a valid answer, distinct from an error.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]evidence.Item, error)
}

// Func adapts a function to the Searcher interface.
type Func func(ctx context.Context, query string, limit int) ([]evidence.Item, error)

// Search implements Searcher.
func (f Func) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	return f(ctx, query, limit)
}

type rateLimited struct {
	next    Searcher
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to next to rps requests per second with the given burst.
// A non-positive rps returns next unchanged.
func WithRateLimit(next Searcher, rps float64, burst int) Searcher {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}
	return r.next.Search(ctx, query, limit)
}

// WithPreprocess cleans result content and drops items left empty.
func WithPreprocess(next Searcher) Searcher {
	return Func(func(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
		items, err := next.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		out := make([]evidence.Item, 0, len(items))
		for _, it := range items {
			it.Content = preprocess.Preprocess(it.Content)
			if strings.TrimSpace(it.Content) == "" {
				continue
			}
			out = append(out, it)
		}
		return out, nil
	})
}

// Truncate caps items to limit; a non-positive limit keeps everything.
func Truncate(items []evidence.Item, limit int) []evidence.Item {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}
