package corrective

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/rag/tokenizer"
)

const noEvidenceText = "No external context was retrieved."

// formatEvidence renders evidence for a prompt, numbering items from 1. With a
// counter and positive budget, items are added in order until the budget is
// spent and the last one is cut to fit.
func formatEvidence(items []evidence.Item, counter tokenizer.Counter, limit int) string {
	if len(items) == 0 {
		return noEvidenceText
	}
	budget := tokenizer.NewBudget(counter, limit)
	var b strings.Builder
	for i, it := range items {
		header := fmt.Sprintf("[%d] %s\n", i+1, it.Label())
		content, truncated, ok := budget.Spend(header, strings.TrimSpace(it.Content))
		if !ok {
			break
		}
		if truncated {
			content += " ..."
		}
		b.WriteString(header)
		b.WriteString(content)
		b.WriteString("\n---\n")
		if budget.Exhausted() {
			break
		}
	}
	if b.Len() == 0 {
		return noEvidenceText
	}
	return b.String()
}
