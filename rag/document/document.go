package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Document is a knowledge-base source that is chunked and indexed.
type Document struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Path     string         `json:"path,omitempty"` // file the content was loaded from
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is one indexed slice of a document.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content"`
	Ordinal    int            `json:"ordinal"` // 0-based position within the document
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IDFromPath derives a stable document ID from a path relative to root, so
// re-indexing the same tree yields the same locators.
func IDFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// ChunkID returns the identifier of the ordinal-th chunk of docID.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", docID, ordinal)
}

// Locator is the evidence source reported for a chunk.
func (c Chunk) Locator() string {
	return "kb://" + ChunkID(c.DocumentID, c.Ordinal)
}

// NewChunk builds the ordinal-th chunk of doc, copying document metadata.
func NewChunk(doc Document, ordinal int, content string, extra map[string]any) Chunk {
	return Chunk{
		ID:         ChunkID(doc.ID, ordinal),
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    strings.TrimSpace(content),
		Ordinal:    ordinal,
		Metadata:   MergeMetadata(doc.Metadata, extra),
	}
}

// MergeMetadata returns a new map holding base overlaid with extra, or nil when both are empty.
func MergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
