package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single prompt or completion exchanged with a model.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}

// SplitSystem separates system prompts from the conversation turns. Providers that
// take the system prompt as a dedicated parameter use it; multiple system messages
// are joined with a newline.
func SplitSystem(msgs []*Message) (string, []*Message) {
	var system []string
	rest := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if msg.Role == RoleSystem {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n"), rest
}
