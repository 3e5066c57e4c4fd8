package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMapsResults(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Apollo 11","url":"https://example.com/apollo","content":"Apollo 11 landed in 1969."},
			{"title":"Empty","url":"https://example.com/empty","content":"  "},
			{"title":"Moon","url":"https://example.com/moon","content":"The Moon orbits Earth."}
		]}`))
	}))
	defer srv.Close()

	c := New("tvly-test", WithEndpoint(srv.URL), WithSearchDepth("advanced"))
	items, err := c.Search(context.Background(), "apollo landing", 3)
	require.NoError(t, err)

	assert.Equal(t, "apollo landing", got.Query)
	assert.Equal(t, 3, got.MaxResults)
	assert.Equal(t, "advanced", got.SearchDepth)

	require.Len(t, items, 2)
	assert.Equal(t, "https://example.com/apollo", items[0].Source)
	assert.Equal(t, "Apollo 11", items[0].Title)
	assert.Equal(t, "The Moon orbits Earth.", items[1].Content)
}

func TestSearchPrefersRawContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"url":"u","content":"snippet","raw_content":"full page"}]}`))
	}))
	defer srv.Close()

	items, err := New("k", WithEndpoint(srv.URL), WithRawContent(true)).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "full page", items[0].Content)
}

func TestSearchNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New("k", WithEndpoint(srv.URL)).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSearchRequiresAPIKey(t *testing.T) {
	_, err := New("").Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestSearchEmptyResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	items, err := New("k", WithEndpoint(srv.URL)).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}
