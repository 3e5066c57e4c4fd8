package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/sweetpotato0/veriflow/config"
	"github.com/sweetpotato0/veriflow/contrib/provider/claude"
	"github.com/sweetpotato0/veriflow/contrib/provider/gemini"
	"github.com/sweetpotato0/veriflow/contrib/provider/openai"
	"github.com/sweetpotato0/veriflow/llm"
)

// Client is an llm.Client that may hold resources to release.
type Client interface {
	llm.Client
	io.Closer
}

type nopCloser struct{ llm.Client }

func (nopCloser) Close() error { return nil }

// New builds the client selected by cfg.Provider. An empty model falls back
// to the provider default.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	return NewWithModel(ctx, cfg, cfg.Model)
}

// NewWithModel is New with the model overridden, e.g. for a separate critic.
func NewWithModel(ctx context.Context, cfg config.LLMConfig, model string) (Client, error) {
	if model == "" {
		model = config.DefaultModel(cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderGroq, "":
		baseURL := cfg.BaseURL
		if baseURL == "" && cfg.Provider == config.ProviderGroq {
			baseURL = config.GroqBaseURL
		}
		c := openai.DefaultConfig().WithAPIKey(cfg.APIKey).WithBaseURL(baseURL).WithModel(model)
		c.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			c.MaxTokens = int64(cfg.MaxTokens)
		}
		return nopCloser{openai.New(c)}, nil
	case config.ProviderClaude:
		c := claude.DefaultConfig(cfg.APIKey, cfg.BaseURL).WithModel(model)
		c.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			c.MaxTokens = int64(cfg.MaxTokens)
		}
		return nopCloser{claude.New(c)}, nil
	case config.ProviderGemini:
		c := gemini.DefaultConfig(cfg.APIKey).WithBaseURL(cfg.BaseURL).WithModel(model)
		c.Temperature = float32(cfg.Temperature)
		if cfg.MaxTokens > 0 {
			c.MaxTokens = int32(cfg.MaxTokens)
		}
		p, err := gemini.New(ctx, c)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
