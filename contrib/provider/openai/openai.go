package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
)

// Config holds OpenAI provider configuration. BaseURL also serves
// OpenAI-compatible endpoints such as Groq or a local vLLM.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:       string(openai.ChatModelGPT4oMini),
		MaxTokens:   2000,
		Temperature: 0.2,
	}
}

// Provider implements llm.Client for OpenAI chat completions.
type Provider struct {
	config *Config
	client openai.Client
}

var _ llm.Client = (*Provider)(nil)

// New creates a new OpenAI provider using official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT4oMini)
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Content))
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(p.config.Model),
	}

	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	params.Temperature = param.NewOpt(temperature)

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(maxTokens)
	}

	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	return &llm.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, completion.Choices[0].Message.Content),
		Usage: llm.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}
