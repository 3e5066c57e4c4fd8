package duckduckgo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/search"
)

const (
	defaultEndpoint  = "https://html.duckduckgo.com/html/"
	defaultUserAgent = "Mozilla/5.0 (compatible; veriflow/1.0)"
)

// Client scrapes the DuckDuckGo HTML endpoint. It needs no API key.
type Client struct {
	endpoint   string
	userAgent  string
	region     string
	httpClient *http.Client
}

var _ search.Searcher = (*Client)(nil)

// Option customises the DuckDuckGo client.
type Option func(*Client)

// WithEndpoint overrides the HTML endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRegion sets the kl region parameter, e.g. "us-en".
func WithRegion(region string) Option {
	return func(c *Client) {
		c.region = region
	}
}

// New creates a DuckDuckGo search client.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint:   defaultEndpoint,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements search.Searcher.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	params := url.Values{}
	params.Set("q", query)
	if c.region != "" {
		params.Set("kl", c.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("duckduckgo search failed: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo results: %w", err)
	}

	var items []evidence.Item
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find(".result__a").First()
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		if snippet == "" {
			return true
		}
		href, _ := link.Attr("href")
		items = append(items, evidence.Item{
			Content: snippet,
			Source:  resolveLink(href),
			Title:   strings.TrimSpace(link.Text()),
		})
		return true
	})
	return items, nil
}

// resolveLink unwraps DuckDuckGo redirect links (/l/?uddg=<target>).
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
