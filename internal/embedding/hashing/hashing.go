// Package hashing is an offline embedder: a bag of words projected onto a
// fixed number of buckets with feature hashing. It needs no corpus pass and
// no network, which makes it suitable for tests and air-gapped runs.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"docqa/internal/domain"
)

const DefaultDimension = 512

type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: hashing dimension must be positive, got %d", domain.ErrConfiguration, dimension)
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}, nil
}

func (e *Embedder) Name() string { return "hashing" }

func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the L2-normalised hashed term frequencies of text. Text
// without any token maps to the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, e.dimension)
	for _, tok := range e.tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		// the top bit picks the sign so collisions tend to cancel out
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		vec[sum%uint64(e.dimension)] += sign
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dimension)
	if norm > 0 {
		for i, v := range vec {
			out[i] = float32(v / norm)
		}
	}
	return out, nil
}

func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "when", "where", "why", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
