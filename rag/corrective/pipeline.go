package corrective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/pkg/metrics"
	"github.com/sweetpotato0/veriflow/pkg/telemetry"
	"github.com/sweetpotato0/veriflow/search"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Clients groups the LLM clients used by the loop. Unset roles fall back to Default.
type Clients struct {
	Default   llm.Client
	Generator llm.Client
	Critic    llm.Client
	Refiner   llm.Client
}

// Pipeline runs the retrieve → generate → critique → refine loop for one
// question at a time. A Pipeline holds no per-session state and may serve many
// concurrent Run calls.
type Pipeline struct {
	cfg       *Config
	retriever *retriever
	generator Generator
	critic    Critic
	refiner   Refiner
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewPipeline wires the loop around a search collaborator and LLM clients.
func NewPipeline(searcher search.Searcher, clients Clients, opts ...Option) (*Pipeline, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	cfg := applyOptions(nil, opts)

	p := &Pipeline{
		cfg:       cfg,
		retriever: newRetriever(searcher, cfg),
		generator: cfg.generator,
		critic:    cfg.critic,
		refiner:   cfg.refiner,
		tracer:    telemetry.Tracer(),
		logger:    cfg.logger,
	}
	if p.logger == nil {
		p.logger = logging.WithComponent("corrective_pipeline").With("pipeline", cfg.Name)
	}

	if p.generator == nil {
		client := pickClient(clients.Generator, clients.Default)
		if client == nil {
			return nil, fmt.Errorf("generator client is required")
		}
		p.generator = newGenerator(client, cfg)
	}
	if p.critic == nil {
		client := pickClient(clients.Critic, clients.Default)
		if client == nil {
			return nil, fmt.Errorf("critic client is required")
		}
		p.critic = newCritic(client, cfg)
	}
	if p.refiner == nil {
		client := pickClient(clients.Refiner, clients.Default)
		if client == nil {
			return nil, fmt.Errorf("refiner client is required")
		}
		p.refiner = newRefiner(client, cfg)
	}

	p.logger.Info("corrective pipeline initialised",
		"max_iterations", cfg.MaxIterations,
		"top_k", cfg.TopK,
		"critic_retries", cfg.CriticRetries,
		"token_budget", cfg.TokenBudget,
	)
	return p, nil
}

func pickClient(primary, fallback llm.Client) llm.Client {
	if primary != nil {
		return primary
	}
	return fallback
}

// Config returns a copy of the pipeline configuration.
func (p *Pipeline) Config() Config {
	return *p.cfg
}

// Run answers question through the verification loop. The returned Result is
// always populated for a valid question; the error is non-nil for collaborator
// failures (matching ErrRetrievalFailure, ErrGenerationFailure or
// ErrCriticFailure) and for cancellation (ErrCancelled). Exhausting the
// iteration bound is not an error: the Result reports Failed with
// FailureExhausted and the last answer, unverified.
func (p *Pipeline) Run(ctx context.Context, question string, opts ...RunOption) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", errorskg.ErrInvalidInput)
	}
	settings := runSettings{maxIterations: p.cfg.MaxIterations}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	sess := &Session{
		ID:               uuid.NewString(),
		OriginalQuestion: question,
		Phase:            PhaseInit,
		evidence:         evidence.NewStore(),
	}
	started := time.Now()
	logger := p.logger.With("session_id", sess.ID)

	ctx, span := p.tracer.Start(ctx, "corrective.run", trace.WithAttributes(
		telemetry.AttrSessionID.String(sess.ID),
		attribute.Int("veriflow.max_iterations", settings.maxIterations),
	))
	logger.Info("session started", "question", logging.Trim(question, 120), "max_iterations", settings.maxIterations)

	emit := func(detail string) {
		ev := Event{SessionID: sess.ID, Phase: sess.Phase, Iteration: sess.Iteration, Query: sess.CurrentQuery, Detail: detail}
		if p.cfg.observer != nil {
			p.cfg.observer(ev)
		}
		if settings.observer != nil {
			settings.observer(ev)
		}
	}

	var (
		failure FailureKind
		runErr  error
	)
	fail := func(kind FailureKind, step string, err error) {
		if ctx.Err() != nil {
			kind, err = FailureCancelled, ctx.Err()
		}
		failure = kind
		runErr = &StepError{Kind: kind, Step: step, Err: err}
		if kind == FailureCancelled {
			sess.Phase = PhaseCancelled
			logger.Warn("session cancelled", "step", step, "iteration", sess.Iteration)
		} else {
			sess.Phase = PhaseFailed
			logger.Error("session step failed", "step", step, "kind", kind, "iteration", sess.Iteration, "error", err)
		}
		emit(runErr.Error())
	}

	for !sess.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			fail(FailureCancelled, string(sess.Phase), err)
			break
		}

		switch sess.Phase {
		case PhaseInit:
			sess.CurrentQuery = question
			sess.Iteration = 0
			sess.Grade = GradeUnsupported
			sess.Phase = PhaseRetrieving

		case PhaseRetrieving:
			sess.Iteration++
			sess.evidence.Reset()
			emit("retrieve")
			var items []evidence.Item
			err := p.runStep(ctx, sess, "retrieve", p.cfg.RetrieveTimeout, func(stepCtx context.Context) error {
				var err error
				items, err = p.retriever.Retrieve(stepCtx, sess.CurrentQuery)
				return err
			})
			if err != nil {
				fail(FailureRetrieval, "retrieve", err)
				continue
			}
			sess.evidence.Replace(sess.CurrentQuery, items)
			sess.Attempts = append(sess.Attempts, Attempt{
				Iteration:     sess.Iteration,
				Query:         sess.CurrentQuery,
				EvidenceCount: len(items),
				Sources:       evidence.Sources(items),
			})
			span.SetAttributes(telemetry.AttrEvidence.Int(len(items)))
			logger.Info("retrieval completed", "iteration", sess.Iteration, "query", logging.Trim(sess.CurrentQuery, 120), "evidence_count", len(items))
			sess.Phase = PhaseGenerating

		case PhaseGenerating:
			emit("generate")
			var answer string
			err := p.runStep(ctx, sess, "generate", p.cfg.GenerateTimeout, func(stepCtx context.Context) error {
				var err error
				answer, err = p.generator.Generate(stepCtx, GenerationInput{
					Question:  sess.OriginalQuestion,
					Query:     sess.CurrentQuery,
					Documents: sess.Documents(),
				})
				if err == nil && strings.TrimSpace(answer) == "" {
					err = errors.New("generator returned an empty answer")
				}
				return err
			})
			if err != nil {
				fail(FailureGeneration, "generate", err)
				continue
			}
			sess.Answer = strings.TrimSpace(answer)
			sess.Grade = GradePending
			sess.currentAttempt().Answer = sess.Answer
			logger.Info("generation completed", "iteration", sess.Iteration, "answer_length", len(sess.Answer))
			sess.Phase = PhaseCritiquing

		case PhaseCritiquing:
			emit("critique")
			var verdict Verdict
			err := p.runStep(ctx, sess, "critique", p.cfg.CritiqueTimeout, func(stepCtx context.Context) error {
				var err error
				verdict, err = p.critic.Critique(stepCtx, sess.Answer, sess.Documents())
				return err
			})
			if err != nil {
				sess.Grade = GradeUnsupported
				sess.currentAttempt().Grade = GradeUnsupported
				fail(FailureCritic, "critique", err)
				continue
			}
			metrics.ObserveVerdict(verdict.Grounded)
			sess.Rationale = verdict.Rationale
			attempt := sess.currentAttempt()
			attempt.Rationale = verdict.Rationale
			if verdict.Grounded {
				sess.Grade = GradeSupported
				attempt.Grade = GradeSupported
				sess.Phase = PhaseAccepted
				logger.Info("answer grounded in evidence", "iteration", sess.Iteration)
				emit("grounded")
				continue
			}
			sess.Grade = GradeUnsupported
			attempt.Grade = GradeUnsupported
			logger.Info("answer not grounded", "iteration", sess.Iteration, "rationale", logging.Trim(verdict.Rationale, 160))
			if sess.Iteration < settings.maxIterations {
				sess.Phase = PhaseRefining
				continue
			}
			failure = FailureExhausted
			sess.Phase = PhaseFailed
			logger.Warn("iterations exhausted, returning unverified answer", "iterations", sess.Iteration)
			emit(string(FailureExhausted))

		case PhaseRefining:
			emit("refine")
			in := RefinementInput{
				Question:      sess.OriginalQuestion,
				PreviousQuery: sess.CurrentQuery,
				Answer:        sess.Answer,
				Rationale:     sess.Rationale,
				Iteration:     sess.Iteration,
			}
			var candidate string
			err := p.runStep(ctx, sess, "refine", p.cfg.RefineTimeout, func(stepCtx context.Context) error {
				var err error
				candidate, err = p.refiner.Refine(stepCtx, in)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					fail(FailureCancelled, "refine", err)
					continue
				}
				logger.Warn("refiner failed, broadening original question", "error", err)
			}
			query, broadened := ensureDistinct(candidate, in, p.cfg.BroadeningHints)
			logger.Info("query refined", "iteration", sess.Iteration, "query", logging.Trim(query, 120), "broadened", broadened)
			sess.CurrentQuery = query
			sess.evidence.Reset()
			sess.Phase = PhaseRetrieving
		}
	}

	res := p.result(sess, failure, runErr, started)
	metrics.ObserveRun(string(res.Status), string(res.Failure), res.IterationsUsed)
	span.SetAttributes(telemetry.OutcomeAttributes(string(res.Status), string(res.Failure), res.IterationsUsed, res.Verified)...)
	telemetry.End(span, runErr)
	logger.Info("session finished",
		"status", res.Status,
		"failure", res.Failure,
		"verified", res.Verified,
		"iterations_used", res.IterationsUsed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, runErr
}

// runStep bounds fn by the step timeout and records a span and metric. A
// cancelled parent context turns a successful call into a cancellation.
func (p *Pipeline) runStep(ctx context.Context, sess *Session, step string, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, span := p.tracer.Start(ctx, "corrective."+step,
		trace.WithAttributes(telemetry.StepAttributes(sess.ID, sess.Iteration, sess.CurrentQuery)...))
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(stepCtx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	metrics.ObserveStep(step, err, time.Since(start))
	telemetry.End(span, err)
	return err
}

func (p *Pipeline) result(sess *Session, failure FailureKind, runErr error, started time.Time) *Result {
	res := &Result{
		SessionID:      sess.ID,
		Question:       sess.OriginalQuestion,
		Failure:        failure,
		IterationsUsed: sess.Iteration,
		Rationale:      sess.Rationale,
		FinalQuery:     sess.CurrentQuery,
		Attempts:       append([]Attempt(nil), sess.Attempts...),
		StartedAt:      started,
		Duration:       time.Since(started),
		Err:            runErr,
	}
	switch sess.Phase {
	case PhaseAccepted:
		res.Status = StatusAccepted
		res.Answer = sess.Answer
		res.Verified = true
		res.Evidence = sess.Documents()
	case PhaseCancelled:
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
		if failure == FailureExhausted {
			res.Answer = sess.Answer
			res.Evidence = sess.Documents()
		}
	}
	return res
}

func (s *Session) currentAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		s.Attempts = append(s.Attempts, Attempt{Iteration: s.Iteration, Query: s.CurrentQuery})
	}
	return &s.Attempts[len(s.Attempts)-1]
}
