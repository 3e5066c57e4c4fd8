package corrective

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
	"github.com/sweetpotato0/veriflow/rag/tokenizer"
)

// GenerationInput is what the generator sees for one attempt.
type GenerationInput struct {
	Question  string          // original user question
	Query     string          // query the evidence was retrieved with
	Documents []evidence.Item // current evidence set, possibly empty
}

// Generator produces a candidate answer. It only has to produce some answer;
// grounding is judged by the Critic.
type Generator interface {
	Generate(ctx context.Context, in GenerationInput) (string, error)
}

type generator struct {
	llm         llm.Client
	prompt      string
	noAnswer    string
	temperature float64
	counter     tokenizer.Counter
	budget      int
}

func newGenerator(client llm.Client, cfg *Config) *generator {
	return &generator{
		llm:         client,
		prompt:      cfg.GeneratorPrompt,
		noAnswer:    cfg.NoAnswerMessage,
		temperature: cfg.Temperature,
		counter:     cfg.counter,
		budget:      cfg.TokenBudget,
	}
}

func (g *generator) Generate(ctx context.Context, in GenerationInput) (string, error) {
	if len(in.Documents) == 0 && g.noAnswer != "" {
		return g.noAnswer, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\n", in.Question)
	if in.Query != "" && in.Query != in.Question {
		fmt.Fprintf(&b, "Search query used:\n%s\n\n", in.Query)
	}
	fmt.Fprintf(&b, "Context:\n%s\n\nAnswer:", formatEvidence(in.Documents, g.counter, g.budget))

	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, g.prompt),
		message.NewMessage(message.RoleUser, b.String()),
	}
	resp, err := g.llm.Generate(ctx, &llm.GenerateRequest{
		Messages:    msgs,
		Temperature: llm.Temperature(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("generator failed: %w", err)
	}
	answer := llm.Text(resp)
	if answer == "" {
		return "", errors.New("generator returned an empty answer")
	}
	return answer, nil
}
