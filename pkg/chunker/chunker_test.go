package chunker

import (
	"strings"
	"testing"
)

func TestChunk_EmptyInput(t *testing.T) {
	t.Parallel()

	c := New()
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := c.Chunk(in, DefaultOptions()); got != nil {
			t.Fatalf("Chunk(%q) = %v, want nil", in, got)
		}
	}
}

func TestChunk_FitsInSingleChunk(t *testing.T) {
	t.Parallel()

	c := New()
	text := "  a short document that fits well under the budget  "
	got := c.Chunk(text, ChunkOptions{MaxTokens: 512, OverlapTokens: 128})

	if len(got) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(got))
	}
	if got[0].Content != strings.TrimSpace(text) {
		t.Fatalf("Content = %q, want trimmed input", got[0].Content)
	}
	if got[0].Index != 0 {
		t.Fatalf("Index = %d, want 0", got[0].Index)
	}
}

func TestChunk_PrefersParagraphBoundary(t *testing.T) {
	t.Parallel()

	c := New()
	para1 := strings.Repeat("alpha ", 20)
	para2 := strings.Repeat("beta ", 20)
	text := para1 + "\n\n" + para2

	// A budget that forces a cut somewhere inside the combined text but
	// leaves the paragraph break within the search window.
	opts := ChunkOptions{MaxTokens: len(para1)/4 + 5, OverlapTokens: 0}
	got := c.Chunk(text, opts)

	if len(got) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if strings.Contains(got[0].Content, "beta") {
		t.Fatalf("first chunk bled into the second paragraph: %q", got[0].Content)
	}
}

func TestChunk_FallsBackToHardCut(t *testing.T) {
	t.Parallel()

	c := New()
	text := strings.Repeat("x", 2000) // no separators anywhere
	opts := ChunkOptions{MaxTokens: 100, OverlapTokens: 20}

	got := c.Chunk(text, opts)
	if len(got) < 2 {
		t.Fatalf("expected multiple hard-cut chunks, got %d", len(got))
	}
	for i, ch := range got {
		if ch.Index != i {
			t.Fatalf("chunk %d has Index %d", i, ch.Index)
		}
	}
}

func TestChunk_OverlapProducesRepeatedTail(t *testing.T) {
	t.Parallel()

	c := New()
	words := make([]string, 300)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	opts := ChunkOptions{MaxTokens: 50, OverlapTokens: 20}
	got := c.Chunk(text, opts)

	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	if got[1].Start >= got[0].End {
		t.Fatalf("chunk 1 does not overlap chunk 0: start=%d end=%d", got[1].Start, got[0].End)
	}
}

func TestChunk_OverlapNotGreaterThanMax(t *testing.T) {
	t.Parallel()

	c := New()
	text := strings.Repeat("hello world ", 200)
	opts := ChunkOptions{MaxTokens: 50, OverlapTokens: 1000} // invalid, gets clamped

	got := c.Chunk(text, opts)
	if len(got) == 0 {
		t.Fatal("expected chunks even with an out-of-range overlap")
	}
}
