package chunking

import (
	"context"
	"strings"

	"github.com/sweetpotato0/veriflow/rag/document"
)

// Chunker splits documents into chunks that can be embedded and indexed.
type Chunker interface {
	Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error)
}

// Options configures SimpleChunker. Sizes are measured in runes.
type Options struct {
	ChunkSize    int
	MinChunkSize int
	Overlap      int
	Separator    string
}

// Option customizes the simple chunker.
type Option func(*Options)

// WithChunkSize overrides the default chunk size.
func WithChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ChunkSize = size
		}
	}
}

// WithMinChunkSize merges consecutive segments shorter than size.
func WithMinChunkSize(size int) Option {
	return func(o *Options) {
		if size >= 0 {
			o.MinChunkSize = size
		}
	}
}

// WithOverlap configures overlap between consecutive windows of one long segment.
func WithOverlap(overlap int) Option {
	return func(o *Options) {
		if overlap >= 0 {
			o.Overlap = overlap
		}
	}
}

// WithSeparator sets the logical separator used before windowing.
func WithSeparator(sep string) Option {
	return func(o *Options) {
		if sep != "" {
			o.Separator = sep
		}
	}
}

// SimpleChunker splits on a separator, merges short segments and windows long
// ones.
type SimpleChunker struct {
	opts Options
}

// NewSimpleChunker constructs a chunker with defaults suited to prose.
func NewSimpleChunker(opts ...Option) *SimpleChunker {
	cfg := Options{
		ChunkSize:    800,
		MinChunkSize: 200,
		Overlap:      120,
		Separator:    "\n\n",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	if cfg.MinChunkSize > cfg.ChunkSize {
		cfg.MinChunkSize = cfg.ChunkSize
	}
	return &SimpleChunker{opts: cfg}
}

// Chunk splits the document into bounded pieces.
func (c *SimpleChunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	pieces := c.Split(doc.Content)
	chunks := make([]document.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks = append(chunks, document.NewChunk(doc, len(chunks), piece, nil))
	}
	return chunks, nil
}

// Split returns the text pieces Chunk would produce.
func (c *SimpleChunker) Split(content string) []string {
	var segments []string
	for _, part := range strings.Split(content, c.opts.Separator) {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}

	var (
		out    []string
		buffer string
	)
	flush := func() {
		if buffer != "" {
			out = append(out, c.window(buffer)...)
			buffer = ""
		}
	}
	for _, seg := range segments {
		if buffer != "" {
			seg = buffer + c.opts.Separator + seg
			buffer = ""
		}
		if runeLen(seg) < c.opts.MinChunkSize {
			buffer = seg
			continue
		}
		out = append(out, c.window(seg)...)
	}
	flush()
	return out
}

// window cuts text into ChunkSize runes with Overlap runes repeated between windows.
func (c *SimpleChunker) window(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.opts.ChunkSize {
		return []string{text}
	}
	step := c.opts.ChunkSize - c.opts.Overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.opts.ChunkSize
		if end >= len(runes) {
			out = append(out, strings.TrimSpace(string(runes[start:])))
			break
		}
		out = append(out, strings.TrimSpace(string(runes[start:end])))
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
