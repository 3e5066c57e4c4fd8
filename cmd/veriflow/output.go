package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runlog"
)

// progressPrinter writes one banner per loop step, matching what an operator
// watching the chat expects to see.
func progressPrinter(w io.Writer) corrective.Observer {
	return func(ev corrective.Event) {
		switch ev.Phase {
		case corrective.PhaseRetrieving:
			fmt.Fprintf(w, "---RETRIEVE--- (iteration %d) %s\n", ev.Iteration, ev.Query)
		case corrective.PhaseGenerating:
			fmt.Fprintln(w, "---GENERATE---")
		case corrective.PhaseCritiquing:
			fmt.Fprintln(w, "---CHECK HALLUCINATIONS---")
		case corrective.PhaseAccepted:
			fmt.Fprintln(w, "---DECISION: GENERATION IS GROUNDED IN DOCUMENTS---")
		case corrective.PhaseRefining:
			fmt.Fprintln(w, "---DECISION: GENERATION IS NOT GROUNDED, TRYING AGAIN---")
			fmt.Fprintln(w, "---TRANSFORM QUERY---")
		case corrective.PhaseFailed:
			fmt.Fprintf(w, "---STOPPED: %s---\n", ev.Detail)
		case corrective.PhaseCancelled:
			fmt.Fprintln(w, "---CANCELLED---")
		}
	}
}

func printResult(w io.Writer, res *corrective.Result) {
	fmt.Fprintln(w, "\n--- FINAL ANSWER ---")
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)

	switch {
	case res.Verified:
		fmt.Fprintf(w, "Status: %s, grounded after %d iteration(s)\n", res.Status, res.IterationsUsed)
	case res.Failure != corrective.FailureNone:
		fmt.Fprintf(w, "Status: %s (%s), not verified after %d iteration(s)\n", res.Status, res.Failure, res.IterationsUsed)
	default:
		fmt.Fprintf(w, "Status: %s, not verified\n", res.Status)
	}
	if res.Rationale != "" && !res.Verified {
		fmt.Fprintf(w, "Critic: %s\n", res.Rationale)
	}
	if len(res.Evidence) > 0 {
		fmt.Fprintln(w, "Sources:")
		for i, item := range res.Evidence {
			if item.Title != "" {
				fmt.Fprintf(w, "%d. %s (%s)\n", i+1, item.Title, item.Source)
				continue
			}
			fmt.Fprintf(w, "%d. %s\n", i+1, item.Source)
		}
	}
}

func printRecords(w io.Writer, records []*runlog.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, rec := range records {
		mark := " "
		if rec.Verified {
			mark = "✓"
		}
		status := rec.Status
		if rec.Failure != "" {
			status += "/" + rec.Failure
		}
		fmt.Fprintf(w, "%s %s  %s  %-28s %d iter  %s\n",
			mark,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.ID,
			status,
			rec.Iterations,
			oneLine(rec.Question, 80),
		)
	}
}

func oneLine(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return text
}
