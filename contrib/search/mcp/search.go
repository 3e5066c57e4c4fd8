package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

// Caller invokes a named tool. *Client implements it.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Searcher uses a remote MCP tool as the evidence source. The tool receives
// {query, limit} (argument names are configurable) and may answer with a JSON
// array of {content|snippet, url|source, title} objects or with plain text.
type Searcher struct {
	caller   Caller
	tool     string
	queryArg string
	limitArg string
}

var _ search.Searcher = (*Searcher)(nil)

// SearcherOption customises the MCP searcher.
type SearcherOption func(*Searcher)

// WithArgumentNames overrides the query and limit argument names. An empty
// limit name omits the limit.
func WithArgumentNames(query, limit string) SearcherOption {
	return func(s *Searcher) {
		if query != "" {
			s.queryArg = query
		}
		s.limitArg = limit
	}
}

// NewSearcher creates a searcher that calls tool through caller.
func NewSearcher(caller Caller, tool string, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		caller:   caller,
		tool:     tool,
		queryArg: "query",
		limitArg: "limit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type toolResult struct {
	Content string `json:"content"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Title   string `json:"title"`
}

// Search implements search.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	args := map[string]any{s.queryArg: query}
	if s.limitArg != "" && limit > 0 {
		args[s.limitArg] = limit
	}

	text, err := s.caller.CallTool(ctx, s.tool, args)
	if err != nil {
		return nil, fmt.Errorf("mcp search: %w", err)
	}
	return search.Truncate(s.parse(text), limit), nil
}

func (s *Searcher) parse(text string) []evidence.Item {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var results []toolResult
	if strings.HasPrefix(text, "[") && json.Unmarshal([]byte(text), &results) == nil {
		items := make([]evidence.Item, 0, len(results))
		for _, r := range results {
			content := firstNonEmpty(r.Content, r.Snippet)
			if content == "" {
				continue
			}
			items = append(items, evidence.Item{
				Content: content,
				Source:  firstNonEmpty(r.URL, r.Source, "mcp://"+s.tool),
				Title:   r.Title,
			})
		}
		return items
	}

	return []evidence.Item{{Content: text, Source: "mcp://" + s.tool}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
