package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/sweetpotato0/veriflow/vector"
)

// DefaultDimension matches text-embedding-3-small.
const DefaultDimension = 1536

const defaultBatchSize = 64

// Embedder implements vector.Embedder with the OpenAI embeddings API, used to
// index knowledge-base chunks and embed search queries.
type Embedder struct {
	client    openaisdk.Client
	model     openaisdk.EmbeddingModel
	dimension int
	batchSize int
}

var _ vector.Embedder = (*Embedder)(nil)

// New creates an embedder. An empty model selects text-embedding-3-small and a
// non-positive dimension selects DefaultDimension. The text-embedding-3
// models are asked for exactly dimension values, so a pgvector column sized
// from Dimension always matches.
func New(apiKey, baseURL string, model openaisdk.EmbeddingModel, dimension int) *Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = openaisdk.EmbeddingModelTextEmbedding3Small
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		client:    openaisdk.NewClient(opts...),
		model:     model,
		dimension: dimension,
		batchSize: defaultBatchSize,
	}
}

// Dimension implements vector.Embedder.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed embeds a single query or chunk.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in input order, splitting large inputs into several
// API calls.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, text := range texts {
		// The API rejects empty strings.
		if strings.TrimSpace(text) == "" {
			text = " "
		}
		input[i] = text
	}

	params := openaisdk.EmbeddingNewParams{
		Model: e.model,
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	}
	if supportsDimensions(e.model) {
		params.Dimensions = param.NewOpt(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, emb := range resp.Data {
		if emb.Index < 0 || int(emb.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", emb.Index)
		}
		out[emb.Index] = toFloat32(emb.Embedding, e.dimension)
	}
	return out, nil
}

func supportsDimensions(model openaisdk.EmbeddingModel) bool {
	return strings.HasPrefix(string(model), "text-embedding-3")
}

// toFloat32 converts to the store's precision, padding or cutting to size.
func toFloat32(input []float64, size int) []float32 {
	vec := make([]float32, size)
	for i := 0; i < len(input) && i < size; i++ {
		vec[i] = float32(input[i])
	}
	return vec
}
