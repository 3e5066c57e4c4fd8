package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/veriflow/errors"
)

// clearEnv blanks every variable Load consults so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VERIFLOW_LLM_PROVIDER", "VERIFLOW_LLM_MODEL", "VERIFLOW_LLM_CRITIC_MODEL", "VERIFLOW_LLM_BASE_URL", "VERIFLOW_LLM_API_KEY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GROQ_API_KEY", "TAVILY_API_KEY",
		"VERIFLOW_SEARCH_BACKEND", "VERIFLOW_KB_DIR", "VERIFLOW_EMBEDDER", "VERIFLOW_RERANKER", "COHERE_API_KEY",
		"VERIFLOW_MCP_SEARCH_COMMAND", "VERIFLOW_MCP_SEARCH_ENDPOINT", "VERIFLOW_MCP_SEARCH_TOOL",
		"VERIFLOW_MAX_ITERATIONS", "VERIFLOW_TOP_K", "VERIFLOW_CRITIC_RETRIES", "VERIFLOW_TOKEN_BUDGET", "VERIFLOW_MAX_CONCURRENCY",
		"VERIFLOW_CACHE_BACKEND", "VERIFLOW_CACHE_TTL", "VERIFLOW_RUNLOG_BACKEND", "VERIFLOW_SQLITE_PATH",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE", "POSTGRES_RUNS_TABLE", "POSTGRES_CHUNKS_TABLE", "VERIFLOW_VECTOR_STORE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX", "REDIS_TTL",
		"MONGODB_URI", "MONGODB_DB", "MONGODB_COLLECTION",
		"VERIFLOW_LOG_LEVEL", "VERIFLOW_LOG_FORMAT", "VERIFLOW_LOG_FILE",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "VERIFLOW_TELEMETRY_ENABLED", "VERIFLOW_SERVER_ADDR", "VERIFLOW_MCP_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veriflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithAPIKeyFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, SearchDuckDuckGo, cfg.Search.Backend)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: claude
  api_key: sk-ant-file
  max_tokens: 512
search:
  backend: knowledge
  knowledge_dir: ./kb
loop:
  max_iterations: 5
  top_k: 4
  critic_retries: 1
  generate_timeout: 45s
runlog:
  backend: sqlite
  sqlite_path: /tmp/runs.db
server:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, "sk-ant-file", cfg.LLM.APIKey)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, "./kb", cfg.Search.KnowledgeDir)
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
	assert.Equal(t, 4, cfg.Loop.TopK)
	assert.Equal(t, 45*time.Second, cfg.Loop.GenerateTimeout)
	assert.Equal(t, 30*time.Second, cfg.Loop.RefineTimeout, "unset fields keep defaults")
	assert.Equal(t, BackendSQLite, cfg.RunLog.Backend)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: gemini
  api_key: from-file
loop:
  max_iterations: 5
`)
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("VERIFLOW_MAX_ITERATIONS", "2")
	t.Setenv("VERIFLOW_RUNLOG_BACKEND", "postgres")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Loop.MaxIterations)
	assert.Equal(t, BackendPostgres, cfg.RunLog.Backend)
	assert.Equal(t, "secret", cfg.RunLog.Postgres.Password)
	assert.Equal(t, 6543, cfg.RunLog.Postgres.Port)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
}

func TestProviderKeyFollowsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("VERIFLOW_LLM_PROVIDER", "Claude")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, cfg.LLM.Provider)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)

	t.Setenv("VERIFLOW_LLM_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "gsk-test", cfg.LLM.APIKey)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: openai
search:
  backend: tavily
loop:
  max_iterations: 0
cache:
  backend: memcached
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	for _, field := range []string{"llm.apiKey", "search.tavilyApiKey", "loop.maxIterations", "cache.backend"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestKnowledgeStoreAndReranker(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	path := writeConfig(t, `
search:
  backend: knowledge
  knowledge_dir: ./kb
  vector_store: pgvector
  reranker: mmr
  mmr_lambda: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VectorPGVector, cfg.Search.VectorStore)
	assert.Equal(t, "db.internal", cfg.Search.PGVector.Host)
	assert.Equal(t, "db.internal", cfg.RunLog.Postgres.Host)
	assert.Equal(t, "veriflow_chunks", cfg.Search.PGVector.Table)
	assert.Equal(t, "veriflow_runs", cfg.RunLog.Postgres.Table)
	assert.Equal(t, RerankMMR, cfg.Search.Reranker)
	assert.InDelta(t, 0.5, cfg.Search.MMRLambda, 1e-6)

	cfg.Search.Reranker = RerankCohere
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.cohereApiKey")

	cfg.Search.CohereAPIKey = "co-key"
	cfg.Search.PGVector.Password = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.pgvector")
}

func TestReadSkipsValidation(t *testing.T) {
	clearEnv(t)
	cfg, err := Read("")
	require.NoError(t, err)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Error(t, cfg.Validate())

	cfg.LLM.APIKey = "sk-flag"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "llm: [unclosed"))
	assert.Error(t, err)
}
