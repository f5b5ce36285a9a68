package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", " ", ""}

// RecursiveChunker splits text into chunks of at most chunkSize characters,
// preferring the coarsest separator that keeps pieces within chunkSize.
// Consecutive chunks share up to chunkOverlap trailing characters.
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewRecursiveChunker validates the sizes and returns a chunker using DefaultSeparators.
func NewRecursiveChunker(chunkSize, chunkOverlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be positive, got %d", domain.ErrConfiguration, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d size=%d",
			domain.ErrConfiguration, chunkOverlap, chunkSize)
	}
	return &RecursiveChunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}, nil
}

// Split is a convenience wrapper around NewRecursiveChunker(...).Split(text).
func Split(text string, chunkSize, chunkOverlap int) ([]domain.Chunk, error) {
	c, err := NewRecursiveChunker(chunkSize, chunkOverlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text)
}

// Split returns the chunks of text in document order.
func (c *RecursiveChunker) Split(text string) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	texts := c.merge(c.pieces(text, c.separators))
	chunks := make([]domain.Chunk, 0, len(texts))
	for _, t := range texts {
		chunks = append(chunks, domain.Chunk{Index: len(chunks), Text: t})
	}
	return chunks, nil
}

// pieces breaks text on the coarsest separator present and recurses only into
// pieces longer than chunkSize. The result is merged once, so the overlap
// window runs across every boundary.
func (c *RecursiveChunker) pieces(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			next = separators[i+1:]
			break
		}
	}

	var out []string
	for _, piece := range splitKeep(text, separator) {
		if utf8.RuneCountInString(piece) <= c.chunkSize || len(next) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, c.pieces(piece, next)...)
	}
	return out
}

// merge packs pieces into chunks no longer than chunkSize and seeds each new
// chunk with the trailing pieces of the previous one, up to chunkOverlap.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		lengths []int
		total   int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > c.chunkSize && len(current) > 0 {
			out = appendTrimmed(out, strings.Join(current, ""))
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= lengths[0]
				current, lengths = current[1:], lengths[1:]
			}
		}
		current = append(current, p)
		lengths = append(lengths, n)
		total += n
	}
	return appendTrimmed(out, strings.Join(current, ""))
}

// splitKeep splits text after every occurrence of sep, keeping sep at the end
// of each piece. An empty sep splits into runes.
func splitKeep(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.SplitAfter(text, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func appendTrimmed(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}
