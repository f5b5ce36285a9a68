// Package vectorstore holds the metric, ranking and encoding helpers shared by
// the concrete index backends in its subpackages.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"docqa/internal/domain"
)

// Score returns the similarity of a and b under distance d. Higher is always
// more similar: euclidean scores are negated L2 distances.
func Score(d domain.Distance, a, b []float32) float64 {
	switch d {
	case domain.DistanceDot:
		return dot(a, b)
	case domain.DistanceEuclidean:
		sum := 0.0
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			sum += diff * diff
		}
		return -math.Sqrt(sum)
	default:
		na, nb := magnitude(a), magnitude(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

// Rank sorts results by descending score, ties by ascending ID, and keeps at
// most topK of them.
func Rank(results []domain.SearchResult, topK int) []domain.SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}

// ValidateCollection checks a collection definition before it is created.
func ValidateCollection(c domain.Collection) error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is empty", domain.ErrInvalidArgument)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: collection dimension must be positive, got %d", domain.ErrInvalidArgument, c.Dimension)
	}
	if !c.Distance.Valid() {
		return fmt.Errorf("%w: unsupported distance %q", domain.ErrInvalidArgument, c.Distance)
	}
	return nil
}

// ValidatePoints checks that every point carries a vector of the collection dimension.
func ValidatePoints(dimension int, points []domain.IndexedPoint) error {
	for _, p := range points {
		if len(p.Vector) != dimension {
			return fmt.Errorf("%w: point %d has dimension %d, collection expects %d", domain.ErrInvalidArgument, p.ID, len(p.Vector), dimension)
		}
	}
	return nil
}

// ValidateQuery checks search arguments against the collection dimension.
func ValidateQuery(dimension int, vector []float32, topK int) error {
	if topK <= 0 {
		return fmt.Errorf("%w: top-k must be positive, got %d", domain.ErrInvalidArgument, topK)
	}
	if len(vector) != dimension {
		return fmt.Errorf("%w: query has dimension %d, collection expects %d", domain.ErrInvalidArgument, len(vector), dimension)
	}
	return nil
}

// EncodeVector encodes v as little-endian IEEE 754 float32 values without a
// length prefix.
func EncodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d (not multiple of 4)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
