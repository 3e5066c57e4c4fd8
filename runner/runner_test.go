package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runlog"
)

type pipelineFunc func(ctx context.Context, question string, opts ...corrective.RunOption) (*corrective.Result, error)

func (f pipelineFunc) Run(ctx context.Context, question string, opts ...corrective.RunOption) (*corrective.Result, error) {
	return f(ctx, question, opts...)
}

func accepted(question string) *corrective.Result {
	return &corrective.Result{
		SessionID:      "sess-" + question,
		Question:       question,
		Status:         corrective.StatusAccepted,
		Answer:         "answer to " + question,
		Verified:       true,
		IterationsUsed: 1,
		Evidence:       []evidence.Item{{Content: "c", Source: "https://example.com/" + question}},
		StartedAt:      time.Now(),
	}
}

type failingStore struct {
	runlog.Store
	saves atomic.Int32
}

func (f *failingStore) Save(ctx context.Context, rec *runlog.Record) error {
	f.saves.Add(1)
	return errors.New("disk full")
}

func TestNewRunnerDefaultConcurrency(t *testing.T) {
	r := New(nil, WithMaxConcurrency(0))
	if cap(r.semaphore) != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cap(r.semaphore))
	}
	if r.Store() != nil {
		t.Fatal("expected no store by default")
	}
}

func TestAskRecordsOutcome(t *testing.T) {
	store := runlog.NewMemoryStore()
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		return accepted(q), nil
	}), WithStore(store), WithLogger(logging.Discard()))

	res, err := r.Ask(context.Background(), "moon")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if res.Status != corrective.StatusAccepted {
		t.Fatalf("unexpected status %s", res.Status)
	}

	rec, err := store.Get(context.Background(), "sess-moon")
	if err != nil {
		t.Fatalf("record not saved under session id: %v", err)
	}
	if !rec.Verified || rec.Answer != "answer to moon" || len(rec.EvidenceSources) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestAskRecordsFailedRunAndReturnsError(t *testing.T) {
	store := runlog.NewMemoryStore()
	stepErr := &corrective.StepError{Kind: corrective.FailureRetrieval, Step: "retrieve", Err: errors.New("search down")}
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		return &corrective.Result{SessionID: "s1", Question: q, Status: corrective.StatusFailed, Failure: corrective.FailureRetrieval}, stepErr
	}), WithStore(store), WithLogger(logging.Discard()))

	res, err := r.Ask(context.Background(), "q")
	if !errors.Is(err, corrective.ErrRetrievalFailure) {
		t.Fatalf("expected retrieval failure, got %v", err)
	}
	if res == nil || res.Failure != corrective.FailureRetrieval {
		t.Fatalf("expected failed result, got %+v", res)
	}
	rec, err := store.Get(context.Background(), "s1")
	if err != nil || rec.Failure != string(corrective.FailureRetrieval) {
		t.Fatalf("failed run not recorded: %+v, %v", rec, err)
	}
}

func TestAskSaveFailureIsNotReturned(t *testing.T) {
	store := &failingStore{}
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		return accepted(q), nil
	}), WithStore(store), WithLogger(logging.Discard()))

	if _, err := r.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("save failure leaked: %v", err)
	}
	if store.saves.Load() != 1 {
		t.Fatalf("expected one save attempt, got %d", store.saves.Load())
	}
}

func TestAskRecordsAfterCancellation(t *testing.T) {
	store := runlog.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		cancel()
		return &corrective.Result{SessionID: "c1", Question: q, Status: corrective.StatusCancelled, Failure: corrective.FailureCancelled},
			&corrective.StepError{Kind: corrective.FailureCancelled, Step: "retrieve", Err: context.Canceled}
	}), WithStore(store), WithLogger(logging.Discard()))

	if _, err := r.Ask(ctx, "q"); !errors.Is(err, corrective.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := store.Get(context.Background(), "c1"); err != nil {
		t.Fatalf("cancelled run not recorded: %v", err)
	}
}

func TestAskCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		close(started)
		<-release
		return accepted(q), nil
	}), WithMaxConcurrency(1), WithLogger(logging.Discard()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Ask(context.Background(), "first")
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := r.Ask(ctx, "second")
	if res != nil || !errors.Is(err, corrective.ErrCancelled) {
		t.Fatalf("expected queued run to be cancelled, got %+v, %v", res, err)
	}

	close(release)
	<-done
}

func TestRunBatchKeepsInputOrder(t *testing.T) {
	var active, peak atomic.Int32
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if q == "q3" {
			return nil, errors.New("boom")
		}
		return accepted(q), nil
	}), WithMaxConcurrency(2), WithLogger(logging.Discard()))

	questions := make([]string, 8)
	for i := range questions {
		questions[i] = fmt.Sprintf("q%d", i)
	}
	results := r.RunBatch(context.Background(), questions)

	if len(results) != len(questions) {
		t.Fatalf("expected %d results, got %d", len(questions), len(results))
	}
	for i, br := range results {
		if br.Index != i || br.Question != questions[i] {
			t.Fatalf("result %d out of order: %+v", i, br)
		}
		if i == 3 {
			if br.Err == nil || br.Message != "boom" {
				t.Fatalf("expected per-question error, got %+v", br)
			}
			continue
		}
		if br.Err != nil || br.Result.Answer != "answer to "+questions[i] {
			t.Fatalf("unexpected result %d: %+v", i, br)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency bound exceeded: %d", peak.Load())
	}
}

func TestRunBatchRecoversPanics(t *testing.T) {
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		if q == "bad" {
			panic("unexpected")
		}
		return accepted(q), nil
	}), WithLogger(logging.Discard()))

	results := r.RunBatch(context.Background(), []string{"good", "bad"})
	if results[0].Err != nil {
		t.Fatalf("good question failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestRunBatchEmpty(t *testing.T) {
	r := New(nil, WithLogger(logging.Discard()))
	if results := r.RunBatch(context.Background(), nil); len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestRunBatchSharedStore(t *testing.T) {
	store := runlog.NewMemoryStore()
	var mu sync.Mutex
	seen := map[string]bool{}
	r := New(pipelineFunc(func(ctx context.Context, q string, _ ...corrective.RunOption) (*corrective.Result, error) {
		mu.Lock()
		seen[q] = true
		mu.Unlock()
		return accepted(q), nil
	}), WithStore(store), WithMaxConcurrency(4), WithLogger(logging.Discard()))

	r.RunBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if store.Count() != 5 || len(seen) != 5 {
		t.Fatalf("expected 5 recorded runs, got %d (seen %d)", store.Count(), len(seen))
	}
}
