package markdown

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/sweetpotato0/veriflow/rag/chunking"
	"github.com/sweetpotato0/veriflow/rag/document"
)

// Splitter cuts oversized section text into smaller pieces.
type Splitter interface {
	Split(content string) []string
}

// Chunker splits markdown documents by heading hierarchy using a goldmark AST.
// Each chunk carries the heading path so evidence labels keep their context.
type Chunker struct {
	maxHeadingLevel int
	maxCharacters   int
	minCharacters   int
	fallback        Splitter
	parser          goldmark.Markdown
}

var _ chunking.Chunker = (*Chunker)(nil)

// Option customises the markdown chunker.
type Option func(*Chunker)

// WithMaxHeadingLevel caps which heading level starts a new chunk (default 3).
func WithMaxHeadingLevel(level int) Option {
	return func(c *Chunker) {
		if level > 0 {
			c.maxHeadingLevel = level
		}
	}
}

// WithMaxCharacters sets the section size above which the fallback splitter runs.
func WithMaxCharacters(chars int) Option {
	return func(c *Chunker) {
		if chars > 0 {
			c.maxCharacters = chars
		}
	}
}

// WithMinCharacters merges adjoining sections until they reach the provided size.
func WithMinCharacters(chars int) Option {
	return func(c *Chunker) {
		if chars >= 0 {
			c.minCharacters = chars
		}
	}
}

// WithFallback swaps the splitter used for oversized sections.
func WithFallback(s Splitter) Option {
	return func(c *Chunker) {
		if s != nil {
			c.fallback = s
		}
	}
}

// New creates a markdown chunker.
func New(opts ...Option) *Chunker {
	ch := &Chunker{
		maxHeadingLevel: 3,
		maxCharacters:   1200,
		minCharacters:   240,
		parser:          goldmark.New(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.fallback == nil {
		ch.fallback = chunking.NewSimpleChunker(
			chunking.WithChunkSize(ch.maxCharacters),
			chunking.WithOverlap(ch.maxCharacters/8),
			chunking.WithMinChunkSize(0),
		)
	}
	return ch
}

// Chunk implements chunking.Chunker.
func (c *Chunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	var chunks []document.Chunk
	for _, sec := range c.splitSections(doc.Content) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pieces := []string{sec.raw}
		if len([]rune(sec.raw)) > c.maxCharacters {
			pieces = c.fallback.Split(sec.raw)
		}
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, document.NewChunk(doc, len(chunks), piece, sec.metadata()))
		}
	}
	return chunks, nil
}

type section struct {
	raw   string
	title string
	level int
}

func (s section) metadata() map[string]any {
	if s.title == "" {
		return nil
	}
	return map[string]any{
		"section_title": s.title,
		"section_level": s.level,
	}
}

type heading struct {
	start int
	level int
	title string
}

func (c *Chunker) splitSections(content string) []section {
	source := []byte(content)
	root := c.parser.Parser().Parse(text.NewReader(source))

	var headings []heading
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > c.maxHeadingLevel {
			return ast.WalkContinue, nil
		}
		lines := h.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		headings = append(headings, heading{
			start: lineStart(source, lines.At(0).Start),
			level: h.Level,
			title: strings.TrimSpace(string(h.Text(source))),
		})
		return ast.WalkSkipChildren, nil
	})

	if len(headings) == 0 {
		if raw := strings.TrimSpace(content); raw != "" {
			return []section{{raw: raw}}
		}
		return nil
	}

	var sections []section
	if intro := strings.TrimSpace(string(source[:headings[0].start])); intro != "" {
		sections = append(sections, section{raw: intro})
	}
	for i, h := range headings {
		end := len(source)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		if raw := strings.TrimSpace(string(source[h.start:end])); raw != "" {
			sections = append(sections, section{raw: raw, title: h.title, level: h.level})
		}
	}
	return c.mergeShort(sections)
}

// lineStart moves a heading text offset back to the start of its line so the
// "#" markers stay with the section.
func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

func (c *Chunker) mergeShort(sections []section) []section {
	if c.minCharacters <= 0 || len(sections) < 2 {
		return sections
	}
	merged := make([]section, 0, len(sections))
	var pending *section
	for i, sec := range sections {
		current := sec
		if pending != nil {
			current = section{
				raw:   pending.raw + "\n\n" + sec.raw,
				title: firstNonEmpty(pending.title, sec.title),
				level: pending.level,
			}
			pending = nil
		}
		if len([]rune(current.raw)) < c.minCharacters && i < len(sections)-1 {
			tmp := current
			pending = &tmp
			continue
		}
		merged = append(merged, current)
	}
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
