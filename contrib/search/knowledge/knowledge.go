package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sweetpotato0/veriflow/contrib/chunking/markdown"
	"github.com/sweetpotato0/veriflow/contrib/vector/inmemory"
	"github.com/sweetpotato0/veriflow/evidence"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/rag/chunking"
	"github.com/sweetpotato0/veriflow/rag/document"
	"github.com/sweetpotato0/veriflow/rag/preprocess"
	"github.com/sweetpotato0/veriflow/rag/reranker"
	"github.com/sweetpotato0/veriflow/search"
	"github.com/sweetpotato0/veriflow/vector"
)

// Metadata keys stored with every embedding.
const (
	metaLocator = "locator"
	metaTitle   = "title"
	metaSection = "section_title"
	metaFormat  = "format"
)

// Searcher answers queries from a local document collection by embedding
// similarity.
type Searcher struct {
	embedder vector.Embedder
	store    vector.Store
	markdown chunking.Chunker
	plain    chunking.Chunker
	minScore float32
	logger   *slog.Logger

	reranker  reranker.Reranker
	overfetch int
}

var _ search.Searcher = (*Searcher)(nil)

// Option customises the knowledge searcher.
type Option func(*Searcher)

// WithStore swaps the vector store (default in-memory).
func WithStore(store vector.Store) Option {
	return func(s *Searcher) {
		if store != nil {
			s.store = store
		}
	}
}

// WithChunkers overrides the chunkers used for markdown and for other text.
func WithChunkers(md, plain chunking.Chunker) Option {
	return func(s *Searcher) {
		if md != nil {
			s.markdown = md
		}
		if plain != nil {
			s.plain = plain
		}
	}
}

// WithMinScore drops matches whose cosine similarity is below score.
func WithMinScore(score float32) Option {
	return func(s *Searcher) {
		s.minScore = score
	}
}

// WithReranker reorders matches with r. The store is asked for overfetch times
// the requested limit so the reranker has alternatives to choose from.
func WithReranker(r reranker.Reranker, overfetch int) Option {
	return func(s *Searcher) {
		s.reranker = r
		if overfetch > 0 {
			s.overfetch = overfetch
		}
	}
}

// New creates an empty knowledge searcher.
func New(embedder vector.Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		embedder: embedder,
		store:    inmemory.New(),
		markdown: markdown.New(),
		plain:    chunking.NewSimpleChunker(),
		logger:   logging.WithComponent("knowledge_search"),

		overfetch: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index chunks, embeds and stores docs. It returns the number of chunks indexed.
func (s *Searcher) Index(ctx context.Context, docs ...document.Document) (int, error) {
	total := 0
	for _, doc := range docs {
		if doc.ID == "" {
			return total, fmt.Errorf("document ID cannot be empty")
		}
		chunker := s.plain
		if doc.Metadata[metaFormat] == "markdown" {
			chunker = s.markdown
		}
		chunks, err := chunker.Chunk(ctx, doc)
		if err != nil {
			return total, fmt.Errorf("chunk %s: %w", doc.ID, err)
		}
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed %s: %w", doc.ID, err)
		}
		if len(vectors) != len(chunks) {
			return total, fmt.Errorf("embed %s: expected %d vectors, got %d", doc.ID, len(chunks), len(vectors))
		}

		embeddings := make([]*vector.Embedding, len(chunks))
		for i, c := range chunks {
			meta := map[string]any{
				metaLocator: c.Locator(),
				metaTitle:   c.Title,
			}
			if section, ok := c.Metadata[metaSection].(string); ok {
				meta[metaSection] = section
			}
			embeddings[i] = &vector.Embedding{ID: c.ID, Vector: vectors[i], Text: c.Content, Metadata: meta}
		}
		if err := s.store.Upsert(ctx, embeddings...); err != nil {
			return total, fmt.Errorf("store %s: %w", doc.ID, err)
		}
		total += len(chunks)
		s.logger.Debug("document indexed", "document_id", doc.ID, "chunks", len(chunks))
	}
	return total, nil
}

// LoadDir indexes every supported file under dir and returns the chunk count.
func (s *Searcher) LoadDir(ctx context.Context, dir string) (int, error) {
	var docs []document.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		doc, err := LoadFile(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load knowledge base %s: %w", dir, err)
	}
	n, err := s.Index(ctx, docs...)
	if err != nil {
		return n, err
	}
	s.logger.Info("knowledge base loaded", "dir", dir, "documents", len(docs), "chunks", n)
	return n, nil
}

// Supported reports whether LoadDir picks up path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".html", ".htm":
		return true
	default:
		return false
	}
}

// LoadFile reads one file into a document. HTML is reduced to text.
func LoadFile(root, path string) (document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return document.Document{}, err
	}
	content := string(raw)
	format := "text"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		format = "markdown"
	case ".html", ".htm":
		format = "html"
		if content, err = preprocess.HTMLToText(content); err != nil {
			return document.Document{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return document.Document{
		ID:       document.IDFromPath(root, path),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:     path,
		Content:  content,
		Metadata: map[string]any{metaFormat: format},
	}, nil
}

// Search implements search.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	fetch := limit
	if s.reranker != nil && limit > 0 {
		fetch = limit * s.overfetch
	}
	found, err := s.store.Search(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]vector.Match, 0, len(found))
	for _, m := range found {
		if m.Score >= s.minScore {
			matches = append(matches, m)
		}
	}
	if s.reranker != nil && len(matches) > 0 {
		ranked, err := s.reranker.Rank(ctx, reranker.Query{Text: query, Vector: vec}, matches, limit)
		if err != nil {
			s.logger.Warn("rerank failed", "error", err, "ranked", len(ranked))
		}
		if len(ranked) > 0 {
			matches = ranked
		} else {
			matches = reranker.Truncate(matches, limit)
		}
	}

	items := make([]evidence.Item, 0, len(matches))
	for _, m := range matches {
		emb := m.Embedding
		title, _ := emb.Metadata[metaTitle].(string)
		if section, ok := emb.Metadata[metaSection].(string); ok && section != "" {
			title = strings.TrimSpace(title + " / " + section)
		}
		locator, _ := emb.Metadata[metaLocator].(string)
		if locator == "" {
			locator = "kb://" + emb.ID
		}
		items = append(items, evidence.Item{Content: emb.Text, Source: locator, Title: title})
	}
	return items, nil
}

// Count returns the number of indexed chunks.
func (s *Searcher) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}
