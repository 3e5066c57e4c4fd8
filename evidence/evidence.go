package evidence

import (
	"strings"
	"sync"
)

// Item is one retrieved document fragment. Items are treated as immutable once
// returned by a searcher.
type Item struct {
	Content string `json:"content"`
	Source  string `json:"source"`          // URL or knowledge-base locator
	Title   string `json:"title,omitempty"` // optional display label
}

// Label returns the best short identifier for the item.
func (it Item) Label() string {
	if s := strings.TrimSpace(it.Source); s != "" {
		return s
	}
	if t := strings.TrimSpace(it.Title); t != "" {
		return t
	}
	return "unknown"
}

// Store holds the evidence set for one in-flight query. Each retrieval replaces
// the whole set; nothing carries over from a previous query.
type Store struct {
	mu    sync.RWMutex
	items []Item
	query string
}

// NewStore creates an empty evidence store.
func NewStore() *Store {
	return &Store{}
}

// Replace swaps in the evidence retrieved for query.
func (s *Store) Replace(query string, items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.items = Clone(items)
}

// Reset discards the current evidence set.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = ""
	s.items = nil
}

// Items returns a copy of the current evidence set.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Clone(s.items)
}

// Query returns the query the current set was retrieved for.
func (s *Store) Query() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Len reports how many items are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clone copies a slice of items. A nil or empty input yields an empty, non-nil slice.
func Clone(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Sources lists the item sources in order.
func Sources(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Label())
	}
	return out
}
