package runlog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errorskg "github.com/sweetpotato0/veriflow/errors"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save stores a copy of rec.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	Prepare(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = clone(rec)
	return nil
}

// Get returns a copy of the record with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, errorskg.ErrNotFound)
	}
	return clone(rec), nil
}

// List returns up to limit records, newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit = Limit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func clone(rec *Record) *Record {
	cp := *rec
	cp.EvidenceSources = append([]string{}, rec.EvidenceSources...)
	return &cp
}
