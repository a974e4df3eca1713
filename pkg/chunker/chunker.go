package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/alexmaze/aimemos/pkg/tokenizer"
)

type Chunker interface {
	Chunk(text string, opts ChunkOptions) []TextChunk
}

// ChunkOptions expresses the window in tokens; tokenizer.CharBudget converts them
// to an approximate rune budget via pkg/tokenizer.
type ChunkOptions struct {
	MaxTokens     int
	OverlapTokens int
}

type TextChunk struct {
	Content string
	Index   int
	Start   int // rune offset into the original text
	End     int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{MaxTokens: 512, OverlapTokens: 128}
}

// boundaries is the cut-preference order: prefer the rightmost occurrence
// of the earliest-listed separator inside the search window, falling
// through to a hard cut only when none is found.
var boundaries = []string{"\n\n", "\n", ". ", "! ", "? ", ", ", " "}

type windowChunker struct{}

func New() Chunker {
	return &windowChunker{}
}

// Chunk slides a token-sized window across text, preferring to end each
// chunk on a natural boundary (paragraph, then line, then sentence, then
// comma, then space) before falling back to a hard cut mid-word.
func (c *windowChunker) Chunk(text string, opts ChunkOptions) []TextChunk {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens >= opts.MaxTokens {
		opts.OverlapTokens = opts.MaxTokens / 4
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	maxChars := tokenizer.CharBudget(opts.MaxTokens)
	overlapChars := tokenizer.CharBudget(opts.OverlapTokens)

	if len(runes) <= maxChars {
		trimmed := strings.TrimSpace(text)
		return []TextChunk{{Content: trimmed, Index: 0, Start: 0, End: len(runes)}}
	}

	var chunks []TextChunk
	idx := 0
	start := 0

	for start < len(runes) {
		end := start + maxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = findBoundary(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, TextChunk{
				Content: content,
				Index:   idx,
				Start:   start,
				End:     end,
			})
			idx++
		}

		if end >= len(runes) {
			break
		}

		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// findBoundary searches window [start, hardEnd] for the best cut point,
// scanning separators in preference order and picking the rightmost match
// within the window so chunks stay close to the token budget.
func findBoundary(runes []rune, start, hardEnd int) int {
	window := string(runes[start:hardEnd])

	for _, sep := range boundaries {
		if pos := strings.LastIndex(window, sep); pos > 0 {
			cut := start + utf8.RuneCountInString(window[:pos]) + utf8.RuneCountInString(sep)
			if cut > start {
				return cut
			}
		}
	}

	return hardEnd
}
