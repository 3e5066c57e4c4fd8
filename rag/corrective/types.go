package corrective

import (
	"time"

	"github.com/sweetpotato0/veriflow/evidence"
)

// Phase enumerates the states of one verification session.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseRetrieving Phase = "retrieving"
	PhaseGenerating Phase = "generating"
	PhaseCritiquing Phase = "critiquing"
	PhaseRefining   Phase = "refining"
	PhaseAccepted   Phase = "accepted"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// String implements fmt.Stringer.
func (p Phase) String() string { return string(p) }

// IsTerminal reports whether the session stops in this phase.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseAccepted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Grade is the verdict slot of a session.
type Grade string

const (
	GradePending     Grade = "pending"
	GradeSupported   Grade = "supported"
	GradeUnsupported Grade = "unsupported"
)

// Status is the caller-facing outcome of a run.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// FailureKind explains why a run did not end Accepted.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureRetrieval  FailureKind = "retrieval_failure"
	FailureGeneration FailureKind = "generation_failure"
	FailureCritic     FailureKind = "critic_failure"
	FailureExhausted  FailureKind = "iterations_exhausted"
	FailureCancelled  FailureKind = "cancelled"
)

// Verdict is the critic's grounding judgment.
type Verdict struct {
	Grounded  bool   `json:"grounded"`
	Rationale string `json:"rationale,omitempty"` // what is missing or unsupported
}

// Attempt records one retrieve/generate/critique pass.
type Attempt struct {
	Iteration     int      `json:"iteration"`
	Query         string   `json:"query"`
	EvidenceCount int      `json:"evidence_count"`
	Sources       []string `json:"sources,omitempty"`
	Answer        string   `json:"answer,omitempty"`
	Grade         Grade    `json:"grade,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
}

// Session is the per-question working state. It is owned by a single Run call
// and never shared.
type Session struct {
	ID               string
	OriginalQuestion string
	CurrentQuery     string
	Answer           string
	Grade            Grade
	Rationale        string
	Iteration        int
	Phase            Phase
	Attempts         []Attempt

	evidence *evidence.Store
}

// Documents returns a copy of the current evidence set.
func (s *Session) Documents() []evidence.Item {
	return s.evidence.Items()
}

// Result is returned to callers once a session reaches a terminal phase.
type Result struct {
	SessionID      string          `json:"session_id"`
	Question       string          `json:"question"`
	Status         Status          `json:"status"`
	Failure        FailureKind     `json:"failure,omitempty"`
	Answer         string          `json:"answer"`
	Verified       bool            `json:"verified"`
	IterationsUsed int             `json:"iterations_used"`
	Rationale      string          `json:"rationale,omitempty"`
	FinalQuery     string          `json:"final_query"`
	Evidence       []evidence.Item `json:"evidence,omitempty"`
	Attempts       []Attempt       `json:"attempts,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	Err            error           `json:"-"`
}

// Event is emitted to observers on every phase transition.
type Event struct {
	SessionID string `json:"session_id"`
	Phase     Phase  `json:"phase"`
	Iteration int    `json:"iteration"`
	Query     string `json:"query,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Observer receives transition events. It runs on the session goroutine and
// should return quickly.
type Observer func(Event)
