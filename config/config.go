package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sweetpotato0/veriflow/runlog/store"
	"gopkg.in/yaml.v3"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// GroqBaseURL is the OpenAI-compatible endpoint used for ProviderGroq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Search backends.
const (
	SearchTavily     = "tavily"
	SearchDuckDuckGo = "duckduckgo"
	SearchKnowledge  = "knowledge"
	SearchMCP        = "mcp"
)

// Knowledge-base vector stores.
const (
	VectorMemory   = "memory"
	VectorPGVector = "pgvector"
)

// Knowledge-base rerankers.
const (
	RerankNone   = "none"
	RerankMMR    = "mmr"
	RerankCohere = "cohere"
)

// Storage backends shared by the cache and run-log sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

var (
	Providers       = []string{ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderGroq}
	SearchBackends  = []string{SearchTavily, SearchDuckDuckGo, SearchKnowledge, SearchMCP}
	CacheBackends   = []string{BackendNone, BackendMemory, BackendRedis}
	RunLogBackends  = []string{BackendNone, BackendMemory, BackendSQLite, BackendPostgres, BackendMongoDB, BackendRedis}
	EmbedderBackend = []string{"hashing", "openai"}
	Rerankers       = []string{RerankNone, RerankMMR, RerankCohere}
	VectorStores    = []string{VectorMemory, VectorPGVector}
)

// Config is the full process configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Loop      LoopConfig      `yaml:"loop"`
	Cache     CacheConfig     `yaml:"cache"`
	RunLog    RunLogConfig    `yaml:"runlog"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// LLMConfig selects the chat model. CriticModel optionally runs the grounding
// check on a different model of the same provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	CriticModel string  `yaml:"critic_model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SearchConfig selects and decorates the evidence source.
type SearchConfig struct {
	Backend      string   `yaml:"backend"`
	TavilyAPIKey string   `yaml:"tavily_api_key"`
	TavilyDepth  string   `yaml:"tavily_depth"`
	Region       string   `yaml:"region"` // duckduckgo kl parameter
	KnowledgeDir string   `yaml:"knowledge_dir"`
	Embedder     string   `yaml:"embedder"` // hashing|openai
	EmbedModel   string   `yaml:"embed_model"`
	EmbedDim     int      `yaml:"embed_dimension"`
	VectorStore  string   `yaml:"vector_store"` // memory|pgvector
	Reranker     string   `yaml:"reranker"`     // none|mmr|cohere, knowledge backend only
	MMRLambda    float32  `yaml:"mmr_lambda"`
	CohereAPIKey string   `yaml:"cohere_api_key"`
	CohereModel  string   `yaml:"cohere_model"`
	MCPCommand   string   `yaml:"mcp_command"` // stdio server to launch
	MCPArgs      []string `yaml:"mcp_args"`
	MCPEndpoint  string   `yaml:"mcp_endpoint"` // streamable HTTP endpoint
	MCPTool      string   `yaml:"mcp_tool"`
	RateLimit    float64  `yaml:"rate_limit"` // requests per second, 0 disables
	Burst        int      `yaml:"burst"`
	Preprocess   bool     `yaml:"preprocess"`

	PGVector store.PostgresConfig `yaml:"pgvector"`
}

// LoopConfig bounds the verification loop.
type LoopConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	TopK            int           `yaml:"top_k"`
	CriticRetries   int           `yaml:"critic_retries"`
	TokenBudget     int           `yaml:"token_budget"`
	Tokenizer       string        `yaml:"tokenizer"` // tiktoken model name; empty uses the heuristic counter
	MaxConcurrency  int           `yaml:"max_concurrency"`
	RetrieveTimeout time.Duration `yaml:"retrieve_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	CritiqueTimeout time.Duration `yaml:"critique_timeout"`
	RefineTimeout   time.Duration `yaml:"refine_timeout"`
	NoAnswerMessage string        `yaml:"no_answer_message"`
}

// CacheConfig controls search result caching.
type CacheConfig struct {
	Backend string            `yaml:"backend"`
	TTL     time.Duration     `yaml:"ttl"`
	Redis   store.RedisConfig `yaml:"redis"`
}

// RunLogConfig selects where finished runs are recorded.
type RunLogConfig struct {
	Backend    string               `yaml:"backend"`
	SQLitePath string               `yaml:"sqlite_path"`
	Postgres   store.PostgresConfig `yaml:"postgres"`
	MongoDB    store.MongoConfig    `yaml:"mongodb"`
	Redis      store.RedisConfig    `yaml:"redis"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ServerConfig controls the HTTP and MCP surfaces.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MCPAddr         string        `yaml:"mcp_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Temperature: 0,
			MaxTokens:   1024,
		},
		Search: SearchConfig{
			Backend:     SearchDuckDuckGo,
			TavilyDepth: "basic",
			MCPTool:     "search",
			Embedder:    "hashing",
			EmbedDim:    512,
			VectorStore: VectorMemory,
			Reranker:    RerankNone,
			MMRLambda:   0.7,
			PGVector:    defaultPGVector(),
			Burst:       1,
			Preprocess:  true,
		},
		Loop: LoopConfig{
			MaxIterations:   3,
			TopK:            3,
			MaxConcurrency:  4,
			RetrieveTimeout: 20 * time.Second,
			GenerateTimeout: 60 * time.Second,
			CritiqueTimeout: 60 * time.Second,
			RefineTimeout:   30 * time.Second,
			NoAnswerMessage: "I don't know: no supporting evidence was retrieved for this question.",
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
			TTL:     10 * time.Minute,
			Redis:   *store.DefaultRedisConfig(),
		},
		RunLog: RunLogConfig{
			Backend:    BackendMemory,
			SQLitePath: "veriflow.db",
			Postgres:   *store.DefaultPostgresConfig(),
			MongoDB:    *store.DefaultMongoConfig(),
			Redis:      *store.DefaultRedisConfig(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "veriflow",
			Environment: "development",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MCPAddr:         ":8081",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  5 * time.Minute,
		},
	}
}

func defaultPGVector() store.PostgresConfig {
	pg := *store.DefaultPostgresConfig()
	pg.Table = "veriflow_chunks"
	return pg
}

// DefaultModel returns the model used when none is configured for provider.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderClaude:
		return "claude-3-5-haiku-latest"
	case ProviderGemini:
		return "gemini-1.5-flash"
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	default:
		return "gpt-4o-mini"
	}
}

// Load reads the configuration from path (optional), the .env file and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply flags first.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is fine; variables already set win over its contents.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.LLM.Provider, "VERIFLOW_LLM_PROVIDER")
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	setString(&c.LLM.Model, "VERIFLOW_LLM_MODEL")
	setString(&c.LLM.CriticModel, "VERIFLOW_LLM_CRITIC_MODEL")
	setString(&c.LLM.BaseURL, "VERIFLOW_LLM_BASE_URL")
	switch c.LLM.Provider {
	case ProviderClaude:
		setString(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
	case ProviderGemini:
		setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	case ProviderGroq:
		setString(&c.LLM.APIKey, "GROQ_API_KEY")
	default:
		setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	}
	setString(&c.LLM.APIKey, "VERIFLOW_LLM_API_KEY")
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel(c.LLM.Provider)
	}

	setString(&c.Search.Backend, "VERIFLOW_SEARCH_BACKEND")
	setString(&c.Search.TavilyAPIKey, "TAVILY_API_KEY")
	setString(&c.Search.KnowledgeDir, "VERIFLOW_KB_DIR")
	setString(&c.Search.Embedder, "VERIFLOW_EMBEDDER")
	setString(&c.Search.Reranker, "VERIFLOW_RERANKER")
	setString(&c.Search.CohereAPIKey, "COHERE_API_KEY")
	setString(&c.Search.MCPCommand, "VERIFLOW_MCP_SEARCH_COMMAND")
	setString(&c.Search.MCPEndpoint, "VERIFLOW_MCP_SEARCH_ENDPOINT")
	setString(&c.Search.MCPTool, "VERIFLOW_MCP_SEARCH_TOOL")

	setInt(&c.Loop.MaxIterations, "VERIFLOW_MAX_ITERATIONS")
	setInt(&c.Loop.TopK, "VERIFLOW_TOP_K")
	setInt(&c.Loop.CriticRetries, "VERIFLOW_CRITIC_RETRIES")
	setInt(&c.Loop.TokenBudget, "VERIFLOW_TOKEN_BUDGET")
	setInt(&c.Loop.MaxConcurrency, "VERIFLOW_MAX_CONCURRENCY")

	setString(&c.Cache.Backend, "VERIFLOW_CACHE_BACKEND")
	setDuration(&c.Cache.TTL, "VERIFLOW_CACHE_TTL")
	setString(&c.RunLog.Backend, "VERIFLOW_RUNLOG_BACKEND")
	setString(&c.RunLog.SQLitePath, "VERIFLOW_SQLITE_PATH")

	for _, pg := range []*store.PostgresConfig{&c.RunLog.Postgres, &c.Search.PGVector} {
		setString(&pg.Host, "POSTGRES_HOST")
		setInt(&pg.Port, "POSTGRES_PORT")
		setString(&pg.User, "POSTGRES_USER")
		setString(&pg.Password, "POSTGRES_PASSWORD")
		setString(&pg.DBName, "POSTGRES_DB")
		setString(&pg.SSLMode, "POSTGRES_SSLMODE")
	}
	setString(&c.RunLog.Postgres.Table, "POSTGRES_RUNS_TABLE")
	setString(&c.Search.PGVector.Table, "POSTGRES_CHUNKS_TABLE")
	setString(&c.Search.VectorStore, "VERIFLOW_VECTOR_STORE")

	for _, rc := range []*store.RedisConfig{&c.Cache.Redis, &c.RunLog.Redis} {
		setString(&rc.Addr, "REDIS_ADDR")
		setString(&rc.Password, "REDIS_PASSWORD")
		setInt(&rc.DB, "REDIS_DB")
		setString(&rc.Prefix, "REDIS_PREFIX")
	}
	setDuration(&c.RunLog.Redis.TTL, "REDIS_TTL")

	mongo := &c.RunLog.MongoDB
	setString(&mongo.URI, "MONGODB_URI")
	setString(&mongo.Database, "MONGODB_DB")
	setString(&mongo.Collection, "MONGODB_COLLECTION")

	setString(&c.Log.Level, "VERIFLOW_LOG_LEVEL")
	setString(&c.Log.Format, "VERIFLOW_LOG_FORMAT")
	setString(&c.Log.File, "VERIFLOW_LOG_FILE")

	if setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT") {
		c.Telemetry.Enabled = true
	}
	setBool(&c.Telemetry.Enabled, "VERIFLOW_TELEMETRY_ENABLED")

	setString(&c.Server.Addr, "VERIFLOW_SERVER_ADDR")
	setString(&c.Server.MCPAddr, "VERIFLOW_MCP_ADDR")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Merge("llm", c.LLM.validator())
	v.Merge("search", c.Search.validator())
	v.Merge("loop", c.Loop.validator())
	v.Merge("cache", c.Cache.validator())
	v.Merge("runlog", c.RunLog.validator())

	v.ValidateOneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error")
	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")
	v.RequireNonEmpty("server.addr", c.Server.Addr)
	v.ValidateDuration("server.shutdownTimeout", c.Server.ShutdownTimeout)
	v.ValidateDuration("server.requestTimeout", c.Server.RequestTimeout)
	v.ValidateFloatRange("telemetry.sampleRatio", c.Telemetry.SampleRatio, 0, 1)
	return v.Error()
}

func setString(dst *string, key string) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*dst = value
		return true
	}
	return false
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}
