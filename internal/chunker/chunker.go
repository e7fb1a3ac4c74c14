// Package chunker splits extracted document text into overlapping
// windows suitable for embedding.
package chunker

import (
	"fmt"
	"strings"

	"github.com/fieldworks/grantkb/internal/config"
)

// Chunker splits text into windows of at most size runes, with overlap
// runes shared between consecutive windows. Splitting prefers paragraph
// and sentence boundaries near the end of a window so chunks do not cut
// mid-sentence when the text allows it.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", config.ErrInvalid, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap (%d) must be in [0, %d)", config.ErrInvalid, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the ordered chunk sequence for text. The result is
// deterministic for a given input and configuration, which keeps chunk
// ordinals stable across re-ingestion of an unchanged document.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakpoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// Boundary adjustment pulled the window back too far;
			// fall back to the fixed stride so progress is guaranteed.
			next = start + (c.size - c.overlap)
		}
		start = next
	}

	return chunks
}

// breakpoint finds a cut position in runes[start:limit], preferring a
// paragraph break, then a sentence end. Boundaries in the first quarter
// of the window are ignored so chunks do not degenerate. Returns limit
// when no boundary is found.
func (c *Chunker) breakpoint(runes []rune, start, limit int) int {
	floor := start + c.size/4

	// Paragraph boundary: blank line.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Sentence boundary: terminator followed by whitespace.
	for i := limit - 1; i > floor; i-- {
		if isSentenceEnd(runes[i-1]) && isSpace(runes[i]) {
			return i + 1
		}
	}

	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
