package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/sweetpotato0/veriflow/config"
	memorycache "github.com/sweetpotato0/veriflow/contrib/cache/memory"
	rediscache "github.com/sweetpotato0/veriflow/contrib/cache/redis"
	"github.com/sweetpotato0/veriflow/contrib/embedder/hashing"
	openaiembed "github.com/sweetpotato0/veriflow/contrib/embedder/openai"
	"github.com/sweetpotato0/veriflow/contrib/provider"
	"github.com/sweetpotato0/veriflow/contrib/reranker/cohere"
	"github.com/sweetpotato0/veriflow/contrib/reranker/mmr"
	"github.com/sweetpotato0/veriflow/contrib/search/duckduckgo"
	"github.com/sweetpotato0/veriflow/contrib/search/knowledge"
	mcpsearch "github.com/sweetpotato0/veriflow/contrib/search/mcp"
	"github.com/sweetpotato0/veriflow/contrib/search/tavily"
	"github.com/sweetpotato0/veriflow/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/veriflow/contrib/vector/pg"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/pkg/telemetry"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/rag/tokenizer"
	"github.com/sweetpotato0/veriflow/runlog"
	"github.com/sweetpotato0/veriflow/runlog/store"
	"github.com/sweetpotato0/veriflow/runner"
	"github.com/sweetpotato0/veriflow/search"
	"github.com/sweetpotato0/veriflow/vector"
)

// app is the fully wired process: one pipeline behind one runner, plus every
// resource that must be released on exit.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	runner *runner.Runner

	closers []func() error
}

// newApp builds the pipeline and its collaborators from cfg. Logs go to logOut
// unless a log file is configured; extra options are applied after the
// configured ones.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, extra ...corrective.Option) (_ *app, err error) {
	a := &app{cfg: cfg, logger: configureLogging(cfg.Log, logOut)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Output:         logOut,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Disable:        !cfg.Telemetry.Enabled,
		Logger:         logging.WithComponent("telemetry"),
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	clients, err := a.buildClients(ctx)
	if err != nil {
		return nil, err
	}

	searcher, err := a.buildSearcher(ctx)
	if err != nil {
		return nil, err
	}

	opts := []corrective.Option{
		corrective.WithMaxIterations(cfg.Loop.MaxIterations),
		corrective.WithTopK(cfg.Loop.TopK),
		corrective.WithStepTimeouts(cfg.Loop.RetrieveTimeout, cfg.Loop.GenerateTimeout, cfg.Loop.CritiqueTimeout, cfg.Loop.RefineTimeout),
		corrective.WithCriticRetries(cfg.Loop.CriticRetries),
		corrective.WithTemperature(cfg.LLM.Temperature),
		corrective.WithNoAnswerMessage(cfg.Loop.NoAnswerMessage),
		corrective.WithLogger(logging.WithComponent("corrective")),
	}
	if cfg.Loop.TokenBudget > 0 {
		counter, err := newCounter(cfg.Loop.Tokenizer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, corrective.WithTokenBudget(counter, cfg.Loop.TokenBudget))
	}
	opts = append(opts, extra...)

	pipeline, err := corrective.NewPipeline(searcher, clients, opts...)
	if err != nil {
		return nil, err
	}

	runOpts := []runner.Option{
		runner.WithMaxConcurrency(cfg.Loop.MaxConcurrency),
		runner.WithLogger(logging.WithComponent("runner")),
	}
	runs, err := openRunLog(ctx, cfg.RunLog)
	if err != nil {
		return nil, err
	}
	if runs != nil {
		a.onClose(runs.Close)
		runOpts = append(runOpts, runner.WithStore(runs))
	}
	a.runner = runner.New(pipeline, runOpts...)

	a.logger.Info("veriflow ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"search", cfg.Search.Backend,
		"cache", cfg.Cache.Backend,
		"runlog", cfg.RunLog.Backend,
		"max_iterations", cfg.Loop.MaxIterations,
	)
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("release resource failed", "error", err)
		}
	}
	a.closers = nil
}

func configureLogging(cfg config.LogConfig, out io.Writer) *slog.Logger {
	return logging.Configure(logging.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		Output:     out,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

func (a *app) buildClients(ctx context.Context) (corrective.Clients, error) {
	client, err := provider.New(ctx, a.cfg.LLM)
	if err != nil {
		return corrective.Clients{}, fmt.Errorf("create llm client: %w", err)
	}
	a.onClose(client.Close)
	clients := corrective.Clients{Default: client}

	if a.cfg.LLM.CriticModel != "" && a.cfg.LLM.CriticModel != a.cfg.LLM.Model {
		critic, err := provider.NewWithModel(ctx, a.cfg.LLM, a.cfg.LLM.CriticModel)
		if err != nil {
			return corrective.Clients{}, fmt.Errorf("create critic client: %w", err)
		}
		a.onClose(critic.Close)
		clients.Critic = critic
	}
	return clients, nil
}

// buildSearcher creates the configured evidence source. Remote backends are
// cleaned, throttled and cached; the local knowledge base is used as is.
func (a *app) buildSearcher(ctx context.Context) (search.Searcher, error) {
	cfg := a.cfg.Search

	var backend search.Searcher
	switch cfg.Backend {
	case config.SearchKnowledge:
		kb, err := a.openKnowledgeBase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return kb, nil
	case config.SearchTavily:
		backend = tavily.New(cfg.TavilyAPIKey, tavily.WithSearchDepth(cfg.TavilyDepth))
	case config.SearchDuckDuckGo:
		backend = duckduckgo.New(duckduckgo.WithRegion(cfg.Region))
	case config.SearchMCP:
		s, err := a.connectMCPSearch(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}

	if cfg.Preprocess {
		backend = search.WithPreprocess(backend)
	}
	if cfg.RateLimit > 0 {
		backend = search.WithRateLimit(backend, cfg.RateLimit, cfg.Burst)
	}
	return a.withCache(backend), nil
}

func (a *app) withCache(next search.Searcher) search.Searcher {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case config.BackendMemory:
		return search.NewCached(next, memorycache.New(cfg.TTL, 2*cfg.TTL), cfg.TTL)
	case config.BackendRedis:
		client := store.NewRedisClient(&cfg.Redis)
		a.onClose(client.Close)
		return search.NewCached(next, rediscache.New(client, cfg.Redis.Prefix+"search:", cfg.TTL), cfg.TTL)
	default:
		return next
	}
}

func (a *app) connectMCPSearch(ctx context.Context, cfg config.SearchConfig) (search.Searcher, error) {
	logger := logging.WithComponent("mcp-search")

	var (
		client *mcpsearch.Client
		err    error
	)
	if cfg.MCPEndpoint != "" {
		client, err = mcpsearch.NewStreamableClient(ctx, cfg.MCPEndpoint, mcpsearch.WithLogger(logger))
	} else {
		client, err = mcpsearch.NewStdioClient(ctx, cfg.MCPCommand,
			mcpsearch.WithLogger(logger),
			mcpsearch.WithCommandArgs(cfg.MCPArgs...),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("connect mcp search server: %w", err)
	}
	a.onClose(client.Close)

	ok, err := client.HasTool(ctx, cfg.MCPTool)
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("mcp server does not expose tool %q", cfg.MCPTool)
	}
	return mcpsearch.NewSearcher(client, cfg.MCPTool), nil
}

// openKnowledgeBase indexes every supported file under cfg.KnowledgeDir.
func (a *app) openKnowledgeBase(ctx context.Context, cfg config.SearchConfig) (*knowledge.Searcher, error) {
	embedder, err := newEmbedder(cfg, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	var opts []knowledge.Option
	if cfg.VectorStore == config.VectorPGVector {
		vs, err := pg.NewPGVectorStore(ctx, cfg.PGVector.DSN(), cfg.PGVector.Table, embedder.Dimension())
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		a.onClose(vs.Close)
		opts = append(opts, knowledge.WithStore(vs))
	}
	switch cfg.Reranker {
	case config.RerankMMR:
		opts = append(opts, knowledge.WithReranker(mmr.New(cfg.MMRLambda), 3))
	case config.RerankCohere:
		opts = append(opts, knowledge.WithReranker(cohere.New(cfg.CohereAPIKey, cohere.WithModel(cfg.CohereModel)), 5))
	}
	kb := knowledge.New(embedder, opts...)
	n, err := kb.LoadDir(ctx, cfg.KnowledgeDir)
	if err != nil {
		return nil, fmt.Errorf("index knowledge base %s: %w", cfg.KnowledgeDir, err)
	}
	logging.WithComponent("knowledge").Info("knowledge base indexed", "dir", cfg.KnowledgeDir, "chunks", n, "embedder", cfg.Embedder, "vector_store", cfg.VectorStore, "reranker", cfg.Reranker)
	return kb, nil
}

func newEmbedder(cfg config.SearchConfig, llmCfg config.LLMConfig) (vector.Embedder, error) {
	switch cfg.Embedder {
	case "", "hashing":
		return hashing.New(cfg.EmbedDim), nil
	case "openai":
		apiKey, baseURL := os.Getenv("OPENAI_API_KEY"), ""
		if llmCfg.Provider == config.ProviderOpenAI {
			apiKey, baseURL = llmCfg.APIKey, llmCfg.BaseURL
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder requires OPENAI_API_KEY")
		}
		return openaiembed.New(apiKey, baseURL, openaisdk.EmbeddingModel(cfg.EmbedModel), cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

// newCounter returns a tiktoken encoder when name is set and the heuristic
// tokenizer otherwise.
func newCounter(name string) (tokenizer.Counter, error) {
	if name == "" {
		return tokenizer.NewSimpleTokenizer(), nil
	}
	tk, err := tiktoken.New(name)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", name, err)
	}
	return tk, nil
}

// openRunLog returns nil when recording is disabled.
func openRunLog(ctx context.Context, cfg config.RunLogConfig) (runlog.Store, error) {
	switch cfg.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return runlog.NewMemoryStore(), nil
	case config.BackendSQLite:
		return store.NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, &cfg.Postgres)
	case config.BackendMongoDB:
		return store.NewMongoStore(ctx, &cfg.MongoDB)
	case config.BackendRedis:
		s := store.NewRedisStore(&cfg.Redis)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis run log: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown run log backend %q", cfg.Backend)
	}
}
