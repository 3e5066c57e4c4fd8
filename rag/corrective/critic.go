package corrective

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
	"github.com/sweetpotato0/veriflow/rag/tokenizer"
)

// Critic judges whether an answer is grounded in the evidence. A malformed
// judgment is an error, never a verdict.
type Critic interface {
	Critique(ctx context.Context, answer string, documents []evidence.Item) (Verdict, error)
}

type critic struct {
	llm     llm.Client
	prompt  string
	retries int
	counter tokenizer.Counter
	budget  int
}

func newCritic(client llm.Client, cfg *Config) *critic {
	return &critic{
		llm:     client,
		prompt:  cfg.CriticPrompt,
		retries: cfg.CriticRetries,
		counter: cfg.counter,
		budget:  cfg.TokenBudget,
	}
}

func (c *critic) Critique(ctx context.Context, answer string, documents []evidence.Item) (Verdict, error) {
	userPrompt := fmt.Sprintf("Set of facts:\n\n%s\n\nLLM generation:\n%s\n\nReturn JSON only.",
		formatEvidence(documents, c.counter, c.budget), answer)
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, c.prompt),
		message.NewMessage(message.RoleUser, userPrompt),
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		resp, err := c.llm.Generate(ctx, &llm.GenerateRequest{
			Messages:    msgs,
			Temperature: llm.Temperature(0),
			JSON:        true,
		})
		if err != nil {
			return Verdict{}, fmt.Errorf("critic failed: %w", err)
		}
		raw := llm.Text(resp)
		verdict, err := parseVerdict(raw)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		msgs = append(msgs,
			message.NewMessage(message.RoleAssistant, raw),
			message.NewMessage(message.RoleUser, fmt.Sprintf(
				`Your reply did not match the required schema (%v). Reply with exactly one JSON object {"grounded": true|false, "rationale": "..."}.`, err)),
		)
	}
	if lastErr == nil {
		lastErr = errors.New("critic produced no verdict")
	}
	return Verdict{}, lastErr
}
