package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

const defaultEndpoint = "https://api.tavily.com/search"

// Client implements search.Searcher against the Tavily search API.
type Client struct {
	apiKey      string
	depth       string
	httpClient  *http.Client
	endpoint    string
	includeRaw  bool
}

var _ search.Searcher = (*Client)(nil)

// Option customises the Tavily client.
type Option func(*Client)

// WithSearchDepth sets the search depth ("basic" or "advanced").
func WithSearchDepth(depth string) Option {
	return func(c *Client) {
		if depth != "" {
			c.depth = depth
		}
	}
}

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the Tavily API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithRawContent asks Tavily for the full page text and prefers it over the snippet.
func WithRawContent(enabled bool) Option {
	return func(c *Client) {
		c.includeRaw = enabled
	}
}

// New creates a Tavily search client.
func New(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     apiKey,
		depth:      "basic",
		httpClient: &http.Client{Timeout: 20 * time.Second},
		endpoint:   defaultEndpoint,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results,omitempty"`
	SearchDepth       string `json:"search_depth,omitempty"`
	IncludeRawContent bool   `json:"include_raw_content,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search implements search.Searcher.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily: api key is required")
	}

	body, err := json.Marshal(searchRequest{
		Query:             query,
		MaxResults:        limit,
		SearchDepth:       c.depth,
		IncludeRawContent: c.includeRaw,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily search failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	items := make([]evidence.Item, 0, len(sr.Results))
	for _, r := range sr.Results {
		content := r.Content
		if c.includeRaw && strings.TrimSpace(r.RawContent) != "" {
			content = r.RawContent
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		items = append(items, evidence.Item{Content: content, Source: r.URL, Title: r.Title})
	}
	return search.Truncate(items, limit), nil
}
