package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
)

const jsonInstruction = "Respond with a single JSON object and nothing else."

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL sets the API endpoint.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey sets the API key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel sets the model name.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}

// Provider implements llm.Client for Anthropic messages.
type Provider struct {
	config *Config
	client anthropic.Client
}

var _ llm.Client = (*Provider)(nil)

// New creates a new Claude provider using official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("", "")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements llm.Client. Claude has no JSON response mode, so JSON
// requests get an extra system instruction instead.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	system, rest := message.SplitSystem(req.Messages)
	if req.JSON {
		system = strings.TrimSpace(system + "\n" + jsonInstruction)
	}

	conversation := make([]anthropic.MessageParam, 0, len(rest))
	for _, msg := range rest {
		switch msg.Role {
		case message.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(conversation) == 0 {
		return nil, fmt.Errorf("claude request needs at least one user message")
	}

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	params.Temperature = param.NewOpt(temperature)

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var text strings.Builder
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	return &llm.GenerateResponse{
		Message: message.NewMessage(message.RoleAssistant, text.String()),
		Usage: llm.Usage{
			PromptTokens:     apiMessage.Usage.InputTokens,
			CompletionTokens: apiMessage.Usage.OutputTokens,
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
