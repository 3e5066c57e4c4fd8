package corrective

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/pkg/logging"
)

func TestRunAcceptedAfterRefinement(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{
		{{Content: "The weather in Paris is sunny.", Source: "https://weather.example"}},
		{{Content: "X happened in 1969.", Source: "https://history.example/x"}},
	}
	f.gen.responses = []string{"I don't know.", "X happened in 1969."}
	f.critic.responses = []string{
		`{"grounded": false, "rationale": "no date found"}`,
		`{"grounded": true, "rationale": "date cited in [1]"}`,
	}
	f.refiner.responses = []string{"year X happened date"}

	var phases []Phase
	pipe, err := f.pipeline(WithObserver(func(ev Event) { phases = append(phases, ev.Phase) }))
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}

	res, err := pipe.Run(context.Background(), "What year did X happen?")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Status != StatusAccepted || !res.Verified {
		t.Fatalf("expected accepted and verified, got %s verified=%v", res.Status, res.Verified)
	}
	if res.IterationsUsed != 2 {
		t.Fatalf("iterations_used = %d, want 2", res.IterationsUsed)
	}
	if res.Answer != "X happened in 1969." {
		t.Fatalf("answer = %q", res.Answer)
	}
	if got := f.searcher.queryAt(1); got != "year X happened date" {
		t.Fatalf("second retrieval used %q, want refined query", got)
	}
	if len(res.Evidence) != 1 || res.Evidence[0].Source != "https://history.example/x" {
		t.Fatalf("evidence was not replaced: %#v", res.Evidence)
	}
	if f.searcher.callCount() != 2 || f.gen.callCount() != 2 || f.critic.callCount() != 2 || f.refiner.callCount() != 1 {
		t.Fatalf("unexpected call counts search=%d gen=%d critic=%d refine=%d",
			f.searcher.callCount(), f.gen.callCount(), f.critic.callCount(), f.refiner.callCount())
	}
	if !strings.Contains(f.refiner.lastUserPrompt(), "no date found") {
		t.Fatalf("refiner did not receive the rationale: %q", f.refiner.lastUserPrompt())
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Grade != GradeUnsupported || res.Attempts[1].Grade != GradeSupported {
		t.Fatalf("unexpected attempts %#v", res.Attempts)
	}
	if !containsPhase(phases, PhaseRefining) || phases[len(phases)-1] != PhaseAccepted {
		t.Fatalf("unexpected phase sequence %v", phases)
	}
}

func TestRunExhaustedWithSingleIteration(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "unrelated", Source: "a"}}}
	f.gen.responses = []string{"best effort answer"}
	f.critic.responses = []string{`{"grounded": false, "rationale": "unsupported claim"}`}

	pipe, err := f.pipeline()
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}
	res, err := pipe.Run(context.Background(), "Who won?", MaxIterations(1))
	if err != nil {
		t.Fatalf("exhaustion must not be an error, got %v", err)
	}
	if res.Status != StatusFailed || res.Failure != FailureExhausted {
		t.Fatalf("expected failed/exhausted, got %s/%s", res.Status, res.Failure)
	}
	if res.Verified {
		t.Fatal("exhausted answer must not be verified")
	}
	if res.IterationsUsed != 1 {
		t.Fatalf("iterations_used = %d, want 1", res.IterationsUsed)
	}
	if res.Answer != "best effort answer" {
		t.Fatalf("expected last answer to be returned, got %q", res.Answer)
	}
	if f.refiner.callCount() != 0 {
		t.Fatalf("refiner should not run after the last iteration")
	}
}

func TestRunNeverExceedsMaxIterations(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			f := newFixture()
			f.searcher.results = [][]evidence.Item{{{Content: "noise", Source: "a"}}}
			f.critic.responses = []string{`{"grounded": false, "rationale": "missing"}`}
			f.refiner.responses = []string{"q1", "q2", "q3", "q4", "q5"}

			pipe, err := f.pipeline(WithMaxIterations(max))
			if err != nil {
				t.Fatalf("NewPipeline error: %v", err)
			}
			res, err := pipe.Run(context.Background(), "question")
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if res.IterationsUsed != max || f.searcher.callCount() != max || f.critic.callCount() != max {
				t.Fatalf("iterations=%d searches=%d critiques=%d, want %d each",
					res.IterationsUsed, f.searcher.callCount(), f.critic.callCount(), max)
			}
			if f.refiner.callCount() != max-1 {
				t.Fatalf("refinements = %d, want %d", f.refiner.callCount(), max-1)
			}
		})
	}
}

func TestRunRetrievalFailureStopsImmediately(t *testing.T) {
	f := newFixture()
	f.searcher.errOn = 1

	pipe, err := f.pipeline()
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}
	res, err := pipe.Run(context.Background(), "question")
	if !errors.Is(err, ErrRetrievalFailure) {
		t.Fatalf("expected retrieval failure, got %v", err)
	}
	if res.Status != StatusFailed || res.Failure != FailureRetrieval || res.Verified {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.gen.callCount() != 0 || f.critic.callCount() != 0 {
		t.Fatalf("generator (%d) and critic (%d) must not run", f.gen.callCount(), f.critic.callCount())
	}
	if KindOf(err) != FailureRetrieval {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestRunRetrievalFailureOnLaterIteration(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "noise", Source: "a"}}}
	f.searcher.errOn = 2
	f.critic.responses = []string{`{"grounded": false, "rationale": "missing"}`}

	pipe, _ := f.pipeline()
	res, err := pipe.Run(context.Background(), "question")
	if !errors.Is(err, ErrRetrievalFailure) {
		t.Fatalf("expected retrieval failure, got %v", err)
	}
	if res.IterationsUsed != 2 || res.Answer != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.gen.callCount() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.callCount())
	}
}

func TestRunEmptyEvidenceStillAnswers(t *testing.T) {
	f := newFixture()
	f.critic.responses = []string{`{"grounded": true, "rationale": "answer declines to assert facts"}`}

	pipe, err := f.pipeline()
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}
	res, err := pipe.Run(context.Background(), "What is the airspeed of an unladen swallow?")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Answer == "" {
		t.Fatal("expected a non-empty answer")
	}
	if f.gen.callCount() != 0 {
		t.Fatalf("generator model should be skipped without evidence")
	}
	if f.critic.callCount() != 1 || !strings.Contains(f.critic.lastUserPrompt(), noEvidenceText) {
		t.Fatalf("critic should judge against an empty evidence set: %q", f.critic.lastUserPrompt())
	}
}

func TestRunEmptyEvidenceCallsModelWithoutFallbackMessage(t *testing.T) {
	f := newFixture()
	f.gen.responses = []string{"I don't know."}
	f.critic.responses = []string{`{"grounded": false}`}

	pipe, _ := f.pipeline(WithNoAnswerMessage(""), WithMaxIterations(1))
	res, err := pipe.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if f.gen.callCount() != 1 || res.Answer != "I don't know." {
		t.Fatalf("expected model answer, got %q after %d calls", res.Answer, f.gen.callCount())
	}
	if !strings.Contains(f.gen.lastUserPrompt(), noEvidenceText) {
		t.Fatalf("generator prompt should state that no context was retrieved")
	}
}

func TestRunDocumentsReplacedBetweenIterations(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{
		{{Content: "first-a", Source: "a"}, {Content: "first-b", Source: "b"}},
		{{Content: "second-c", Source: "c"}},
	}
	f.critic.responses = []string{`{"grounded": false, "rationale": "missing"}`, `{"grounded": true}`}

	pipe, _ := f.pipeline()
	res, err := pipe.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	prompt := f.critic.lastUserPrompt()
	if strings.Contains(prompt, "first-a") || strings.Contains(prompt, "first-b") {
		t.Fatalf("stale evidence leaked into second critique: %q", prompt)
	}
	if len(res.Evidence) != 1 || res.Evidence[0].Content != "second-c" {
		t.Fatalf("unexpected evidence %#v", res.Evidence)
	}
}

func TestRunCriticMalformedOutputFailsSession(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.critic.responses = []string{`{"binary_score": "yes"}`}

	pipe, _ := f.pipeline()
	res, err := pipe.Run(context.Background(), "question")
	if !errors.Is(err, ErrCriticFailure) {
		t.Fatalf("expected critic failure, got %v", err)
	}
	if res.Status != StatusFailed || res.Verified || res.Answer != "" {
		t.Fatalf("malformed verdict must not be accepted: %+v", res)
	}
	if f.refiner.callCount() != 0 || f.searcher.callCount() != 1 {
		t.Fatalf("critic failure must not trigger refinement")
	}
	if f.critic.callCount() != 1 {
		t.Fatalf("critic retried without opt-in: %d calls", f.critic.callCount())
	}
}

func TestRunCriticTransportErrorFailsSession(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.critic.err = errors.New("quota exceeded")

	pipe, _ := f.pipeline(WithCriticRetries(2))
	_, err := pipe.Run(context.Background(), "question")
	if !errors.Is(err, ErrCriticFailure) {
		t.Fatalf("expected critic failure, got %v", err)
	}
	if f.critic.callCount() != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", f.critic.callCount())
	}
}

func TestRunCriticRetryRecoversFromMalformedOutput(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.critic.responses = []string{"looks fine to me", `{"grounded": true}`}

	pipe, _ := f.pipeline(WithCriticRetries(1))
	res, err := pipe.Run(context.Background(), "question")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Status != StatusAccepted || f.critic.callCount() != 2 {
		t.Fatalf("expected acceptance after one retry, got %s with %d calls", res.Status, f.critic.callCount())
	}
}

func TestRunGenerationFailure(t *testing.T) {
	tests := map[string]*stubLLM{
		"model error":  {err: errors.New("model overloaded")},
		"empty output": {responses: []string{"   "}},
	}
	for name, gen := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
			f.gen = gen

			pipe, _ := f.pipeline()
			res, err := pipe.Run(context.Background(), "question")
			if !errors.Is(err, ErrGenerationFailure) {
				t.Fatalf("expected generation failure, got %v", err)
			}
			if res.Failure != FailureGeneration || f.critic.callCount() != 0 {
				t.Fatalf("unexpected result %+v critic calls=%d", res, f.critic.callCount())
			}
		})
	}
}

func TestRunStepTimeoutIsStepFailure(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.gen = &stubLLM{block: true}

	pipe, _ := f.pipeline(WithStepTimeouts(0, 20*time.Millisecond, 0, 0))
	res, err := pipe.Run(context.Background(), "question")
	if !errors.Is(err, ErrGenerationFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected generation failure caused by deadline, got %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	f := newFixture()
	pipe, _ := f.pipeline()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := pipe.Run(ctx, "question")
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Status != StatusCancelled || res.Verified || res.Answer != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.searcher.callCount() != 0 {
		t.Fatal("no collaborator should run after cancellation")
	}
}

func TestRunCancelledDuringStepIsNeverAccepted(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.searcher.onCall = func(int) { cancel() }

	pipe, _ := f.pipeline()
	res, err := pipe.Run(ctx, "question")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Status != StatusCancelled || res.Failure != FailureCancelled {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.gen.callCount() != 0 || f.critic.callCount() != 0 {
		t.Fatal("steps ran after cancellation")
	}
}

func TestRunCancelledWhileRefining(t *testing.T) {
	f := newFixture()
	f.searcher.results = [][]evidence.Item{{{Content: "fact", Source: "a"}}}
	f.critic.responses = []string{`{"grounded": false, "rationale": "missing"}`}
	f.refiner = &stubLLM{block: true}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	pipe, _ := f.pipeline()
	res, err := pipe.Run(ctx, "question")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Status != StatusCancelled || res.Answer != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.searcher.callCount() != 1 {
		t.Fatalf("no retrieval should follow a cancelled refinement")
	}
}

func TestRunRefinerFallbackProducesDistinctQuery(t *testing.T) {
	tests := map[string]*stubLLM{
		"identical query": {responses: []string{"Who discovered X?"}},
		"refiner error":   {err: errors.New("model overloaded")},
		"empty output":    {responses: []string{"\n  \n"}},
	}
	for name, ref := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.searcher.results = [][]evidence.Item{{{Content: "noise", Source: "a"}}}
			f.critic.responses = []string{`{"grounded": false}`, `{"grounded": true}`}
			f.refiner = ref

			pipe, _ := f.pipeline()
			res, err := pipe.Run(context.Background(), "Who discovered X?")
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			second := f.searcher.queryAt(1)
			if second == "" || sameQuery(second, f.searcher.queryAt(0)) {
				t.Fatalf("second query %q repeats the first", second)
			}
			if !strings.HasPrefix(second, "Who discovered X?") {
				t.Fatalf("fallback should broaden the original question, got %q", second)
			}
			if res.Status != StatusAccepted {
				t.Fatalf("status = %s", res.Status)
			}
		})
	}
}

func TestRunRejectsEmptyQuestion(t *testing.T) {
	f := newFixture()
	pipe, _ := f.pipeline()
	res, err := pipe.Run(context.Background(), "   ")
	if !errors.Is(err, errorskg.ErrInvalidInput) || res != nil {
		t.Fatalf("expected invalid input, got %v / %+v", err, res)
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(nil, Clients{Default: &stubLLM{}}); err == nil {
		t.Fatal("expected error without searcher")
	}
	if _, err := NewPipeline(&stubSearcher{}, Clients{}); err == nil {
		t.Fatal("expected error without LLM clients")
	}
	if _, err := NewPipeline(&stubSearcher{}, Clients{Default: &stubLLM{}}); err != nil {
		t.Fatalf("default client should cover every role: %v", err)
	}
}

func TestRunConcurrentSessionsAreIndependent(t *testing.T) {
	searcher := &stubSearcher{results: [][]evidence.Item{{{Content: "fact", Source: "a"}}}}
	gen := &stubLLM{responses: []string{"answer"}}
	critic := &stubLLM{responses: []string{`{"grounded": true}`}}
	pipe, err := NewPipeline(searcher, Clients{Default: gen, Critic: critic}, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}

	const sessions = 16
	var wg sync.WaitGroup
	ids := make(chan string, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := pipe.Run(context.Background(), fmt.Sprintf("question %d", i))
			if err != nil || res.Status != StatusAccepted || res.IterationsUsed != 1 {
				t.Errorf("session %d: %v %+v", i, err, res)
				return
			}
			ids <- res.SessionID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if searcher.callCount() != sessions {
		t.Fatalf("search calls = %d, want %d", searcher.callCount(), sessions)
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	terminal := map[Phase]bool{
		PhaseInit: false, PhaseRetrieving: false, PhaseGenerating: false, PhaseCritiquing: false,
		PhaseRefining: false, PhaseAccepted: true, PhaseFailed: true, PhaseCancelled: true,
	}
	for phase, want := range terminal {
		if phase.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", phase, !want, want)
		}
	}
}

func containsPhase(phases []Phase, target Phase) bool {
	for _, p := range phases {
		if p == target {
			return true
		}
	}
	return false
}
