package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/veriflow/rag/reranker"
	"github.com/sweetpotato0/veriflow/vector"
)

const (
	defaultEndpoint = "https://api.cohere.com/v2/rerank"
	defaultModel    = "rerank-english-v3.0"
	defaultMaxDocs  = 50
)

// Client reorders knowledge-base chunks with Cohere's rerank endpoint. Any
// failure degrades to the fallback ranking so a search never fails on it.
type Client struct {
	apiKey       string
	model        string
	maxDocs      int
	minRelevance float32
	httpClient   *http.Client
	endpoint     string
	fallback     reranker.Reranker
}

var _ reranker.Reranker = (*Client)(nil)

// Option customises the Cohere reranker client.
type Option func(*Client)

// WithModel overrides the default model (rerank-english-v3.0).
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxDocuments caps how many candidates are sent per call; the rest are
// dropped before ranking.
func WithMaxDocuments(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// WithMinRelevance drops chunks Cohere scores below threshold. If nothing
// clears it the fallback order is used.
func WithMinRelevance(threshold float32) Option {
	return func(c *Client) { c.minRelevance = threshold }
}

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithFallback sets the ranking used when Cohere cannot be reached.
func WithFallback(r reranker.Reranker) Option {
	return func(c *Client) {
		if r != nil {
			c.fallback = r
		}
	}
}

// New creates a reranker. Without an API key every call uses the fallback.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		maxDocs:    defaultMaxDocs,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   defaultEndpoint,
		fallback:   reranker.NewCosineReranker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float32 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rank implements reranker.Reranker. When the API cannot be used the fallback
// ranking is returned together with the cause, so the caller can log it and
// keep the results.
func (c *Client) Rank(ctx context.Context, query reranker.Query, matches []vector.Match, limit int) ([]vector.Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(query.Text) == "" || c.apiKey == "" {
		return c.runFallback(ctx, query, matches, limit, nil)
	}

	candidates := matches
	if len(candidates) > c.maxDocs {
		candidates = candidates[:c.maxDocs]
	}
	topN := len(candidates)
	if limit > 0 && limit < topN {
		topN = limit
	}

	scored, err := c.call(ctx, rerankRequest{
		Model:     c.model,
		Query:     query.Text,
		Documents: documents(candidates),
		TopN:      topN,
	})
	if err != nil {
		return c.runFallback(ctx, query, matches, limit, err)
	}

	ranked := make([]vector.Match, 0, len(scored))
	for _, r := range scored {
		if r.Index < 0 || r.Index >= len(candidates) || r.RelevanceScore < c.minRelevance {
			continue
		}
		ranked = append(ranked, vector.Match{Embedding: candidates[r.Index].Embedding, Score: r.RelevanceScore})
	}
	if len(ranked) == 0 {
		return c.runFallback(ctx, query, matches, limit, fmt.Errorf("cohere rerank: no result above %.2f", c.minRelevance))
	}
	return reranker.Truncate(ranked, limit), nil
}

func (c *Client) call(ctx context.Context, body rerankRequest) ([]rerankResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode cohere request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cohere rerank failed: status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("cohere rerank failed: status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}
	return rr.Results, nil
}

// documents renders each chunk as Cohere sees it. A chunk's document title,
// when indexed, is prepended so headings count toward relevance.
func documents(matches []vector.Match) []string {
	docs := make([]string, len(matches))
	for i, m := range matches {
		if m.Embedding == nil {
			continue
		}
		text := m.Embedding.Text
		if title, _ := m.Embedding.Metadata["title"].(string); title != "" && !strings.HasPrefix(text, title) {
			text = title + "\n" + text
		}
		docs[i] = text
	}
	return docs
}

func (c *Client) runFallback(ctx context.Context, query reranker.Query, matches []vector.Match, limit int, cause error) ([]vector.Match, error) {
	results, err := c.fallback.Rank(ctx, query, matches, limit)
	if err != nil {
		return results, err
	}
	return results, cause
}
