package corrective

import (
	"context"
	"errors"
	"sync"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
	"github.com/sweetpotato0/veriflow/pkg/logging"
)

// stubLLM replays scripted responses; the last response repeats once the
// script runs out.
type stubLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     bool // wait for ctx.Done instead of answering
	calls     int
	requests  []*llm.GenerateRequest
}

func (s *stubLLM) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	idx := s.calls - 1
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return llm.NewResponse(""), nil
	}
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return llm.NewResponse(s.responses[idx]), nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubLLM) lastUserPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	msgs := s.requests[len(s.requests)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// stubSearcher returns one scripted result set per call and records queries.
type stubSearcher struct {
	mu      sync.Mutex
	results [][]evidence.Item
	errOn   int // 1-based call that fails; 0 never fails
	err     error
	onCall  func(call int)
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	call := len(s.queries)
	s.mu.Unlock()

	if s.onCall != nil {
		s.onCall(call)
	}
	if s.errOn == call {
		if s.err == nil {
			return nil, errors.New("search backend unavailable")
		}
		return nil, s.err
	}
	if len(s.results) == 0 {
		return nil, nil
	}
	idx := call - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return evidence.Clone(s.results[idx]), nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *stubSearcher) queryAt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[i]
}

type fixture struct {
	searcher *stubSearcher
	gen      *stubLLM
	critic   *stubLLM
	refiner  *stubLLM
}

func newFixture() *fixture {
	return &fixture{
		searcher: &stubSearcher{},
		gen:      &stubLLM{responses: []string{"candidate answer"}},
		critic:   &stubLLM{responses: []string{`{"grounded": true}`}},
		refiner:  &stubLLM{responses: []string{"refined query"}},
	}
}

func (f *fixture) pipeline(opts ...Option) (*Pipeline, error) {
	base := []Option{WithLogger(logging.Discard())}
	return NewPipeline(f.searcher, Clients{
		Generator: f.gen,
		Critic:    f.critic,
		Refiner:   f.refiner,
	}, append(base, opts...)...)
}
