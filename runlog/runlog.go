package runlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/veriflow/rag/corrective"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Record is the persisted outcome of one verification session.
type Record struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Question        string    `json:"question"`
	FinalQuery      string    `json:"final_query"`
	Status          string    `json:"status"`
	Failure         string    `json:"failure,omitempty"`
	Verified        bool      `json:"verified"`
	Answer          string    `json:"answer"`
	Rationale       string    `json:"rationale,omitempty"`
	Iterations      int       `json:"iterations"`
	EvidenceSources []string  `json:"evidence_sources"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
}

// Store persists run records. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	// Get returns errors.ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the most recent records first.
	List(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}

// FromResult converts a pipeline result into a record with a fresh ID.
func FromResult(res *corrective.Result) *Record {
	if res == nil {
		return nil
	}
	sources := make([]string, 0, len(res.Evidence))
	for _, item := range res.Evidence {
		if item.Source != "" {
			sources = append(sources, item.Source)
		}
	}
	return &Record{
		ID:              uuid.NewString(),
		SessionID:       res.SessionID,
		Question:        res.Question,
		FinalQuery:      res.FinalQuery,
		Status:          string(res.Status),
		Failure:         string(res.Failure),
		Verified:        res.Verified,
		Answer:          res.Answer,
		Rationale:       res.Rationale,
		Iterations:      res.IterationsUsed,
		EvidenceSources: sources,
		StartedAt:       res.StartedAt,
		DurationMS:      res.Duration.Milliseconds(),
	}
}

// Prepare fills the ID and start time when missing. Stores call it before
// writing so callers may hand in partial records.
func Prepare(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.EvidenceSources == nil {
		rec.EvidenceSources = []string{}
	}
}

// Limit normalises a caller supplied list limit.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
