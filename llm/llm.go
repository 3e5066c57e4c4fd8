package llm

import (
	"context"
	"strings"

	"github.com/sweetpotato0/veriflow/message"
)

// Client is the generation collaborator. Implementations must be safe for
// concurrent use since independent sessions share one client.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest bundles inputs for a non-streaming LLM invocation.
type GenerateRequest struct {
	Messages    []*message.Message
	Temperature *float64 // nil keeps the provider default
	MaxTokens   int64    // 0 keeps the provider default
	JSON        bool     // ask for a single JSON object when the provider supports it
}

// GenerateResponse captures the LLM reply for non-streaming calls.
type GenerateResponse struct {
	Message *message.Message
	Usage   Usage
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

// Generate implements Client.
func (f ClientFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// Text returns the trimmed assistant content, or "" when the response is empty.
func Text(resp *GenerateResponse) string {
	if resp == nil || resp.Message == nil {
		return ""
	}
	return strings.TrimSpace(resp.Message.Content)
}

// Temperature returns a pointer suitable for GenerateRequest.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// NewResponse wraps plain text as an assistant response.
func NewResponse(text string) *GenerateResponse {
	return &GenerateResponse{Message: message.NewMessage(message.RoleAssistant, text)}
}
