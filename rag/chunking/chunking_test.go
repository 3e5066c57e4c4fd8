package chunking

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sweetpotato0/veriflow/rag/document"
)

func TestSimpleChunkerMergesShortSegments(t *testing.T) {
	ch := NewSimpleChunker(WithChunkSize(120), WithMinChunkSize(60), WithOverlap(20))

	doc := document.Document{
		ID:      "guide.md",
		Title:   "Guide",
		Content: "# Intro\n\nShort note.\n\nThis paragraph is long enough on its own to stand as a separate chunk of the document body.",
		Metadata: map[string]any{
			"path": "guide.md",
		},
	}

	chunks, err := ch.Chunk(context.Background(), doc)
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) != 1 && len(chunks) != 2 {
		t.Fatalf("expected short segments to merge, got %d chunks", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "# Intro") || !strings.Contains(chunks[0].Content, "Short note.") {
		t.Fatalf("expected merged heading and note, got %q", chunks[0].Content)
	}
	for i, c := range chunks {
		if c.Ordinal != i || c.ID != document.ChunkID("guide.md", i) {
			t.Fatalf("chunk %d has ordinal %d id %s", i, c.Ordinal, c.ID)
		}
		if c.Metadata["path"] != "guide.md" || c.Title != "Guide" {
			t.Fatalf("document metadata not copied: %+v", c)
		}
	}
	if chunks[0].Locator() != "kb://guide.md#0" {
		t.Fatalf("unexpected locator %s", chunks[0].Locator())
	}
}

func TestSimpleChunkerWindowsLongSegmentsByRune(t *testing.T) {
	ch := NewSimpleChunker(WithChunkSize(10), WithMinChunkSize(0), WithOverlap(3))
	text := strings.Repeat("副作用", 10) // 30 runes, multi-byte

	pieces := ch.Split(text)
	if len(pieces) != 4 {
		t.Fatalf("expected 4 windows, got %d: %q", len(pieces), pieces)
	}
	for _, p := range pieces {
		if !utf8.ValidString(p) {
			t.Fatalf("window split a rune: %q", p)
		}
		if utf8.RuneCountInString(p) > 10 {
			t.Fatalf("window too long: %q", p)
		}
	}
}

func TestSimpleChunkerClampsOverlap(t *testing.T) {
	ch := NewSimpleChunker(WithChunkSize(8), WithOverlap(20), WithMinChunkSize(0))
	if pieces := ch.Split(strings.Repeat("a", 40)); len(pieces) == 0 {
		t.Fatal("expected pieces")
	}
}

func TestSimpleChunkerEmptyDocument(t *testing.T) {
	chunks, err := NewSimpleChunker().Chunk(context.Background(), document.Document{ID: "empty", Content: "  \n\n "})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}
