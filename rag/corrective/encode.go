package corrective

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// decodeJSON tries to unmarshal the raw model output into T after stripping fences.
func decodeJSON[T any](raw string) (*T, error) {
	clean := sanitizeJSON(raw)
	if clean == "" {
		return nil, errors.New("decode JSON: empty output")
	}
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return &out, nil
}

func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	// models sometimes wrap the object in a sentence
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start >= 0 && end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return strings.TrimSpace(trimmed)
}

// verdictPayload mirrors the judge schema. Pointers distinguish a missing field
// from a false value.
type verdictPayload struct {
	Grounded  *bool   `json:"grounded"`
	Rationale *string `json:"rationale"`
}

// parseVerdict validates raw judge output against the verdict schema.
func parseVerdict(raw string) (Verdict, error) {
	payload, err := decodeJSON[verdictPayload](raw)
	if err != nil {
		return Verdict{}, &malformedOutputError{raw: raw, err: err}
	}
	if payload.Grounded == nil {
		return Verdict{}, &malformedOutputError{raw: raw, err: errors.New(`missing boolean field "grounded"`)}
	}
	v := Verdict{Grounded: *payload.Grounded}
	if payload.Rationale != nil {
		v.Rationale = strings.TrimSpace(*payload.Rationale)
	}
	return v, nil
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
