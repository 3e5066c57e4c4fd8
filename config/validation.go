package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/runlog/store"
)

// ValidationError names one invalid setting by its dotted path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects every problem in a section instead of stopping at the
// first one, so a misconfigured deployment is fixed in one pass.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) addf(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequireNonEmpty fails when value is blank.
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.addf(field, "value cannot be empty")
	}
	return v
}

// RequirePositive fails when value is zero or negative.
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.addf(field, "value must be positive, got %d", value)
	}
	return v
}

// ValidateRange fails when value is outside [min, max].
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.addf(field, "value must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// ValidateFloatRange fails when value is outside [min, max].
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.addf(field, "value must be between %.2f and %.2f, got %.2f", min, max, value)
	}
	return v
}

// ValidatePort accepts 1-65535.
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// ValidateOneOf fails unless value is one of allowed.
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.addf(field, "value must be one of %v, got %q", allowed, value)
}

// ValidateNonNegative fails when value is below zero.
func (v *Validator) ValidateNonNegative(field string, value int) *Validator {
	if value < 0 {
		return v.addf(field, "value cannot be negative, got %d", value)
	}
	return v
}

// ValidateDuration fails on negative durations; zero means unbounded.
func (v *Validator) ValidateDuration(field string, value time.Duration) *Validator {
	if value < 0 {
		return v.addf(field, "duration cannot be negative, got %s", value)
	}
	return v
}

// Require records message for field when ok is false.
func (v *Validator) Require(field string, ok bool, message string) *Validator {
	if !ok {
		return v.addf(field, "%s", message)
	}
	return v
}

// Merge appends the errors of other, prefixing their fields with section.
func (v *Validator) Merge(section string, other *Validator) *Validator {
	for _, e := range other.errors {
		e.Field = section + "." + e.Field
		v.errors = append(v.errors, e)
	}
	return v
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the failed checks in the order they ran.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Error combines every failure into one error wrapping errors.ErrInvalidInput,
// or returns nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, e := range v.errors {
		fmt.Fprintf(&b, "\n  - %s: %s", e.Field, e.Message)
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidInput, b.String())
}

// Validate checks the model selection.
func (c LLMConfig) Validate() error { return c.validator().Error() }

func (c LLMConfig) validator() *Validator {
	v := NewValidator()
	v.ValidateOneOf("provider", c.Provider, Providers...)
	v.RequireNonEmpty("apiKey", c.APIKey)
	v.RequireNonEmpty("model", c.Model)
	v.ValidateFloatRange("temperature", c.Temperature, 0.0, 2.0)
	v.RequirePositive("maxTokens", c.MaxTokens)
	return v
}

// Validate checks the evidence source and its decorators.
func (c SearchConfig) Validate() error { return c.validator().Error() }

func (c SearchConfig) validator() *Validator {
	v := NewValidator()
	v.ValidateOneOf("backend", c.Backend, SearchBackends...)
	switch c.Backend {
	case SearchTavily:
		v.RequireNonEmpty("tavilyApiKey", c.TavilyAPIKey)
	case SearchKnowledge:
		v.RequireNonEmpty("knowledgeDir", c.KnowledgeDir)
		if c.VectorStore == VectorPGVector {
			v.Merge("pgvector", postgresValidator(c.PGVector))
			v.RequireNonEmpty("pgvector.table", c.PGVector.Table)
		}
	case SearchMCP:
		v.Require("mcpCommand", c.MCPCommand != "" || c.MCPEndpoint != "", "mcp search needs a command or an endpoint")
		v.RequireNonEmpty("mcpTool", c.MCPTool)
	}

	v.ValidateOneOf("embedder", c.Embedder, EmbedderBackend...)
	v.ValidateOneOf("vectorStore", c.VectorStore, VectorStores...)
	v.ValidateOneOf("reranker", c.Reranker, Rerankers...)
	if c.Reranker == RerankCohere {
		v.RequireNonEmpty("cohereApiKey", c.CohereAPIKey)
	}

	if c.RateLimit < 0 {
		v.addf("rateLimit", "value cannot be negative, got %.2f", c.RateLimit)
	} else if c.RateLimit > 0 {
		v.RequirePositive("burst", c.Burst)
	}
	return v
}

// Validate checks the verification loop bounds.
func (c LoopConfig) Validate() error { return c.validator().Error() }

func (c LoopConfig) validator() *Validator {
	v := NewValidator()
	v.ValidateRange("maxIterations", c.MaxIterations, 1, 20)
	v.ValidateRange("topK", c.TopK, 1, 50)
	v.ValidateRange("criticRetries", c.CriticRetries, 0, 5)
	v.ValidateNonNegative("tokenBudget", c.TokenBudget)
	v.RequirePositive("maxConcurrency", c.MaxConcurrency)
	v.ValidateDuration("retrieveTimeout", c.RetrieveTimeout)
	v.ValidateDuration("generateTimeout", c.GenerateTimeout)
	v.ValidateDuration("critiqueTimeout", c.CritiqueTimeout)
	v.ValidateDuration("refineTimeout", c.RefineTimeout)
	return v
}

// Validate checks the search result cache.
func (c CacheConfig) Validate() error { return c.validator().Error() }

func (c CacheConfig) validator() *Validator {
	v := NewValidator()
	v.ValidateOneOf("backend", c.Backend, CacheBackends...)
	v.ValidateDuration("ttl", c.TTL)
	if c.Backend == BackendRedis {
		v.Merge("redis", redisValidator(c.Redis))
	}
	return v
}

// Validate checks the selected run-log sink.
func (c RunLogConfig) Validate() error { return c.validator().Error() }

func (c RunLogConfig) validator() *Validator {
	v := NewValidator()
	v.ValidateOneOf("backend", c.Backend, RunLogBackends...)
	switch c.Backend {
	case BackendSQLite:
		v.RequireNonEmpty("sqlitePath", c.SQLitePath)
	case BackendPostgres:
		v.Merge("postgres", postgresValidator(c.Postgres))
	case BackendMongoDB:
		v.Merge("mongodb", mongoValidator(c.MongoDB))
	case BackendRedis:
		v.Merge("redis", redisValidator(c.Redis))
	}
	return v
}

func postgresValidator(c store.PostgresConfig) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("host", c.Host)
	v.ValidatePort("port", c.Port)
	v.RequireNonEmpty("user", c.User)
	v.RequireNonEmpty("password", c.Password)
	v.RequireNonEmpty("dbName", c.DBName)
	v.ValidateOneOf("sslMode", c.SSLMode, "disable", "require", "verify-ca", "verify-full")
	return v
}

func redisValidator(c store.RedisConfig) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("addr", c.Addr)
	v.ValidateRange("db", c.DB, 0, 15)
	v.RequireNonEmpty("prefix", c.Prefix)
	v.ValidateDuration("ttl", c.TTL)
	return v
}

func mongoValidator(c store.MongoConfig) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("uri", c.URI)
	v.RequireNonEmpty("database", c.Database)
	v.RequireNonEmpty("collection", c.Collection)
	return v
}
