package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
	"google.golang.org/api/option"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	MaxTokens   int32
	Temperature float32
}

// WithBaseURL sets the API endpoint.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.Endpoint = url
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

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// Provider implements llm.Client for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

var _ llm.Client = (*Provider)(nil)

// New creates a new Gemini provider. The SDK client holds a connection pool
// and must be released with Close.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Generate implements llm.Client. Each call builds its own model handle so
// per-request settings never leak between sessions.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	system, history, last, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	model := p.client.GenerativeModel(p.config.Model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	model.SetTemperature(temperature)
	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(maxTokens)
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates in response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &llm.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, text.String())}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// toContents maps messages onto Gemini turns. The final turn must come from
// the user; earlier turns become chat history.
func toContents(msgs []*message.Message) (string, []*genai.Content, *genai.Content, error) {
	system, rest := message.SplitSystem(msgs)
	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return "", nil, nil, fmt.Errorf("gemini request must end with a user message")
	}
	return system, contents[:len(contents)-1], contents[len(contents)-1], nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = float32(temp)
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = int32(max)
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}
