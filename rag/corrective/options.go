package corrective

import (
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/veriflow/rag/tokenizer"
)

// Config controls the verification loop. It is read once when a session starts.
type Config struct {
	Name            string        // Logical name for tracing/logging
	MaxIterations   int           // Upper bound on retrieve/generate/critique attempts
	TopK            int           // How many evidence items each retrieval keeps
	RetrieveTimeout time.Duration // Per-call bound on the search collaborator
	GenerateTimeout time.Duration // Per-call bound on answer generation
	CritiqueTimeout time.Duration // Per-call bound on the grounding check
	RefineTimeout   time.Duration // Per-call bound on query rewriting
	CriticRetries   int           // Extra critic calls allowed after malformed output (0 = fail fast)
	Temperature     float64       // Generation temperature; the critic always runs at 0

	GeneratorPrompt string   // System prompt for answer generation
	CriticPrompt    string   // System prompt for the grounding judge
	RefinerPrompt   string   // System prompt for query rewriting
	NoAnswerMessage string   // Answer used when retrieval returns no evidence ("" calls the model anyway)
	BroadeningHints []string // Suffixes used when the refiner cannot produce a distinct query

	TokenBudget int               // Max evidence tokens per prompt (0 = unlimited)
	counter     tokenizer.Counter // Token counter backing TokenBudget
	observer    Observer
	logger      *slog.Logger
	generator   Generator // Optional override for the LLM generator
	critic      Critic    // Optional override for the LLM critic
	refiner     Refiner   // Optional override for the LLM refiner
}

// Option customises the pipeline configuration.
type Option func(*Config)

// WithName sets the logical pipeline name used in logs and spans.
func WithName(name string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(name) != "" {
			cfg.Name = name
		}
	}
}

// WithMaxIterations bounds how many attempts a session may make.
func WithMaxIterations(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxIterations = n
		}
	}
}

// WithTopK overrides how many evidence items each retrieval keeps.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithStepTimeouts bounds each collaborator call. Zero values keep the current setting.
func WithStepTimeouts(retrieve, generate, critique, refine time.Duration) Option {
	return func(cfg *Config) {
		if retrieve > 0 {
			cfg.RetrieveTimeout = retrieve
		}
		if generate > 0 {
			cfg.GenerateTimeout = generate
		}
		if critique > 0 {
			cfg.CritiqueTimeout = critique
		}
		if refine > 0 {
			cfg.RefineTimeout = refine
		}
	}
}

// WithCriticRetries allows re-asking the critic after malformed output before the
// session fails with a critic failure. Transport errors are never retried.
func WithCriticRetries(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.CriticRetries = n
		}
	}
}

// WithTemperature sets the generation temperature.
func WithTemperature(t float64) Option {
	return func(cfg *Config) {
		if t >= 0 && t <= 2 {
			cfg.Temperature = t
		}
	}
}

// WithGeneratorPrompt sets the system prompt for answer generation.
func WithGeneratorPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.GeneratorPrompt = prompt
		}
	}
}

// WithCriticPrompt sets the grounding judge system prompt.
func WithCriticPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.CriticPrompt = prompt
		}
	}
}

// WithRefinerPrompt sets the query rewriting system prompt.
func WithRefinerPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.RefinerPrompt = prompt
		}
	}
}

// WithNoAnswerMessage sets the answer used when no evidence was retrieved.
// An empty message makes the generator call the model even without evidence.
func WithNoAnswerMessage(message string) Option {
	return func(cfg *Config) {
		cfg.NoAnswerMessage = strings.TrimSpace(message)
	}
}

// WithBroadeningHints replaces the fallback refinement suffixes.
func WithBroadeningHints(hints ...string) Option {
	return func(cfg *Config) {
		cleaned := make([]string, 0, len(hints))
		for _, h := range hints {
			if h = strings.TrimSpace(h); h != "" {
				cleaned = append(cleaned, h)
			}
		}
		if len(cleaned) > 0 {
			cfg.BroadeningHints = cleaned
		}
	}
}

// WithTokenBudget caps the evidence tokens placed in generator and critic prompts.
func WithTokenBudget(counter tokenizer.Counter, budget int) Option {
	return func(cfg *Config) {
		if counter != nil && budget > 0 {
			cfg.counter = counter
			cfg.TokenBudget = budget
		}
	}
}

// WithObserver registers a callback for phase transitions.
func WithObserver(obs Observer) Option {
	return func(cfg *Config) {
		cfg.observer = obs
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithGenerator plugs in a custom generator implementation.
func WithGenerator(g Generator) Option {
	return func(cfg *Config) {
		if g != nil {
			cfg.generator = g
		}
	}
}

// WithCritic plugs in a custom critic implementation.
func WithCritic(c Critic) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.critic = c
		}
	}
}

// WithRefiner plugs in a custom refiner implementation. Its output still passes
// through the distinct-query guard.
func WithRefiner(r Refiner) Option {
	return func(cfg *Config) {
		if r != nil {
			cfg.refiner = r
		}
	}
}

// RunOption adjusts a single Run call.
type RunOption func(*runSettings)

type runSettings struct {
	maxIterations int
	observer      Observer
}

// MaxIterations overrides the configured bound for one run.
func MaxIterations(n int) RunOption {
	return func(s *runSettings) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// Observe adds a per-run observer in addition to the configured one.
func Observe(obs Observer) RunOption {
	return func(s *runSettings) {
		s.observer = obs
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:            "veriflow",
		MaxIterations:   3,
		TopK:            3,
		RetrieveTimeout: 20 * time.Second,
		GenerateTimeout: 60 * time.Second,
		CritiqueTimeout: 60 * time.Second,
		RefineTimeout:   30 * time.Second,
		GeneratorPrompt: `You are an assistant for question-answering tasks.
Use only the retrieved context below to answer the question.
If the context does not contain the answer, say that you don't know instead of guessing.
Refer to sources as [n] using the numbers given in the context. Keep the answer concise.`,
		CriticPrompt: `You are a grader assessing whether an LLM generation is grounded in / supported by a set of retrieved facts.
Return a single JSON object and nothing else: {"grounded": true|false, "rationale": "..."}.
Rules:
- "grounded" is true only when every factual claim in the answer is supported by the facts.
- An answer that only states the facts are insufficient, without asserting anything else, counts as grounded.
- When "grounded" is false, "rationale" must name the claim that is unsupported or the information that is missing.`,
		RefinerPrompt: `You are an expert at optimizing web search queries.
A previous search for the user's question did not produce an answer supported by evidence.
Rewrite the question into a better search query that targets the missing information.
Output only the updated query string, without quotes or explanation.`,
		NoAnswerMessage: "I don't know: no supporting evidence was retrieved for this question.",
		BroadeningHints: []string{
			"overview and background",
			"official sources",
			"facts and dates",
			"explained in detail",
		},
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}
