package corrective

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweetpotato0/veriflow/llm"
	"github.com/sweetpotato0/veriflow/message"
)

// RefinementInput carries what the refiner needs to target the information gap.
type RefinementInput struct {
	Question      string // original user question
	PreviousQuery string // query that produced the rejected answer
	Answer        string // rejected answer
	Rationale     string // critic rationale, possibly empty
	Iteration     int    // attempts made so far
}

// Refiner rewrites the search query after a rejected answer.
type Refiner interface {
	Refine(ctx context.Context, in RefinementInput) (string, error)
}

type refiner struct {
	llm    llm.Client
	prompt string
}

func newRefiner(client llm.Client, cfg *Config) *refiner {
	return &refiner{llm: client, prompt: cfg.RefinerPrompt}
}

func (r *refiner) Refine(ctx context.Context, in RefinementInput) (string, error) {
	rationale := strings.TrimSpace(in.Rationale)
	if rationale == "" {
		rationale = "The answer was not supported by the retrieved evidence; look for more authoritative or more specific sources."
	}
	userPrompt := fmt.Sprintf("Original question:\n%s\n\nPrevious search query:\n%s\n\nRejected answer:\n%s\n\nWhy it was rejected:\n%s\n\nUpdated search query:",
		in.Question, in.PreviousQuery, truncate(in.Answer, 600), rationale)
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, r.prompt),
		message.NewMessage(message.RoleUser, userPrompt),
	}
	resp, err := r.llm.Generate(ctx, &llm.GenerateRequest{
		Messages:    msgs,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return "", fmt.Errorf("refiner failed: %w", err)
	}
	query := cleanQuery(llm.Text(resp))
	if query == "" {
		return "", errors.New("refiner returned an empty query")
	}
	return query, nil
}

// cleanQuery keeps the first non-empty line and strips labels and quotes models add.
func cleanQuery(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, prefix := range []string{"Updated search query:", "Search query:", "Query:"} {
			if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
				line = strings.TrimSpace(line[len(prefix):])
			}
		}
		line = strings.Trim(line, "\"'`“”")
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// ensureDistinct guarantees a non-empty query that differs from the previous one.
// When the candidate is unusable it broadens the original question with a hint,
// rotating hints by iteration so consecutive fallbacks differ.
func ensureDistinct(candidate string, in RefinementInput, hints []string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate != "" && !sameQuery(candidate, in.PreviousQuery) {
		return candidate, false
	}
	if len(hints) == 0 {
		hints = defaultConfig().BroadeningHints
	}
	start := 0
	if in.Iteration > 0 {
		start = (in.Iteration - 1) % len(hints)
	}
	for i := 0; i < len(hints); i++ {
		fallback := in.Question + " " + hints[(start+i)%len(hints)]
		if !sameQuery(fallback, in.PreviousQuery) {
			return fallback, true
		}
	}
	return in.Question + " " + hints[start] + " " + strconv.Itoa(in.Iteration+1), true
}

func sameQuery(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
