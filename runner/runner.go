package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runlog"
	"golang.org/x/sync/errgroup"
)

const saveTimeout = 5 * time.Second

// Pipeline answers one question through the verification loop.
type Pipeline interface {
	Run(ctx context.Context, question string, opts ...corrective.RunOption) (*corrective.Result, error)
}

// Runner executes verification sessions with bounded concurrency and records
// each outcome in the run log.
type Runner struct {
	pipeline       Pipeline
	store          runlog.Store
	maxConcurrency int
	semaphore      chan struct{}
	logger         *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithStore records finished sessions in store.
func WithStore(store runlog.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithMaxConcurrency bounds how many sessions run at once.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithLogger overrides the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a new runner
func New(pipeline Pipeline, opts ...Option) *Runner {
	r := &Runner{
		pipeline:       pipeline,
		maxConcurrency: 10, // Default concurrency
		logger:         logging.WithComponent("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.semaphore = make(chan struct{}, r.maxConcurrency)
	return r
}

// Store returns the run log, or nil when runs are not recorded.
func (r *Runner) Store() runlog.Store {
	return r.store
}

// Ask runs one session and records its outcome. A run-log failure is logged,
// never returned.
func (r *Runner) Ask(ctx context.Context, question string, opts ...corrective.RunOption) (*corrective.Result, error) {
	// Acquire semaphore
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, &corrective.StepError{Kind: corrective.FailureCancelled, Step: "queue", Err: ctx.Err()}
	}

	res, err := r.pipeline.Run(ctx, question, opts...)
	if res != nil {
		r.record(ctx, res)
	}
	return res, err
}

func (r *Runner) record(ctx context.Context, res *corrective.Result) {
	if r.store == nil {
		return
	}
	rec := runlog.FromResult(res)
	if rec.SessionID != "" {
		rec.ID = rec.SessionID
	}

	// The session may have ended because ctx was cancelled; the record is still written.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := r.store.Save(saveCtx, rec); err != nil {
		r.logger.Warn("run log save failed", "session_id", res.SessionID, "error", err)
		return
	}
	r.logger.Debug("run recorded", "session_id", res.SessionID, "status", res.Status)
}

// BatchResult is the outcome of one question in a batch.
type BatchResult struct {
	Index    int                `json:"index"`
	Question string             `json:"question"`
	Result   *corrective.Result `json:"result,omitempty"`
	Err      error              `json:"-"`
	Message  string             `json:"error,omitempty"` // Err as text
}

// RunBatch runs independent sessions concurrently and returns their outcomes
// in input order. A failed question does not stop the others.
func (r *Runner) RunBatch(ctx context.Context, questions []string, opts ...corrective.RunOption) []BatchResult {
	results := make([]BatchResult, len(questions))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for i, q := range questions {
		g.Go(func() error {
			results[i] = BatchResult{Index: i, Question: q}
			defer func() {
				if rec := recover(); rec != nil {
					results[i].Err = fmt.Errorf("panic in question %d: %v", i, rec)
					results[i].Message = results[i].Err.Error()
				}
			}()

			res, err := r.Ask(ctx, q, opts...)
			results[i].Result = res
			if err != nil {
				results[i].Err = err
				results[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("batch finished", "questions", len(questions))
	return results
}
