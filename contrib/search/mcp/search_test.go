package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/veriflow/pkg/logging"
)

type searchArgs struct {
	Query string `json:"query" jsonschema:"search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum results"`
}

func newSearchServer(t *testing.T) *Client {
	t.Helper()
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "search-test", Version: "0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "web_search", Description: "search"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, a searchArgs) (*sdkmcp.CallToolResult, any, error) {
			if a.Query == "fail" {
				return nil, nil, errors.New("upstream unavailable")
			}
			results := []map[string]string{
				{"content": "Apollo 11 landed in 1969.", "url": "https://example.com/apollo", "title": "Apollo"},
				{"snippet": "Armstrong was first.", "title": "Crew"},
				{"title": "empty"},
			}
			data, _ := json.Marshal(results)
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}}}, nil, nil
		})

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	_, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), clientTransport, WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSearcherOverMCP(t *testing.T) {
	client := newSearchServer(t)

	ok, err := client.HasTool(context.Background(), "web_search")
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := NewSearcher(client, "web_search").Search(context.Background(), "apollo", 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "https://example.com/apollo", items[0].Source)
	assert.Equal(t, "Armstrong was first.", items[1].Content)
	assert.Equal(t, "mcp://web_search", items[1].Source)
}

func TestSearcherToolError(t *testing.T) {
	client := newSearchServer(t)
	_, err := NewSearcher(client, "web_search").Search(context.Background(), "fail", 5)
	require.Error(t, err)
	var toolErr *ToolError
	assert.ErrorAs(t, err, &toolErr)
}

type callerFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f callerFunc) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

func TestSearcherPlainTextAndArgumentNames(t *testing.T) {
	var got map[string]any
	s := NewSearcher(callerFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		got = args
		return "  The Moon is 384,400 km away.  ", nil
	}), "kb_lookup", WithArgumentNames("q", ""))

	items, err := s.Search(context.Background(), "moon distance", 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "moon distance"}, got)
	require.Len(t, items, 1)
	assert.Equal(t, "The Moon is 384,400 km away.", items[0].Content)
	assert.Equal(t, "mcp://kb_lookup", items[0].Source)
}

func TestSearcherEmptyResponse(t *testing.T) {
	s := NewSearcher(callerFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "", nil
	}), "t")
	items, err := s.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Empty(t, items)
}
