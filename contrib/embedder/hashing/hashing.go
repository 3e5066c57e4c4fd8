package hashing

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/sweetpotato0/veriflow/vector"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Embedder maps text to a normalised bag-of-words vector by feature hashing.
// It needs no network access, which makes it the offline default for the
// knowledge base and a deterministic embedder for tests.
type Embedder struct {
	dimension int
}

var _ vector.Embedder = (*Embedder)(nil)

// New creates an embedder with the given dimension (default 512).
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &Embedder{dimension: dimension}
}

// Dimension implements vector.Embedder.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed implements vector.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dimension))
		if sum&(1<<31) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return vector.Normalize(vec), nil
}

// EmbedBatch implements vector.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
