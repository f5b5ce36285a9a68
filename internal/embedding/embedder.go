// Package embedding wraps embedding providers. The concrete adapters live in
// subpackages.
package embedding

import (
	"context"
	"fmt"
	"io"

	"docqa/internal/domain"
	"docqa/internal/resilience"
	"docqa/internal/telemetry"
)

// Guarded applies a resilience guard to every call of the wrapped embedder
// and checks the dimension of what comes back.
type Guarded struct {
	inner   domain.Embedder
	guard   *resilience.Guard
	metrics *telemetry.Metrics
}

var _ domain.Embedder = (*Guarded)(nil)

func NewGuarded(inner domain.Embedder, guard *resilience.Guard, metrics *telemetry.Metrics) *Guarded {
	return &Guarded{inner: inner, guard: guard, metrics: metrics}
}

func (g *Guarded) Name() string   { return g.inner.Name() }
func (g *Guarded) Dimension() int { return g.inner.Dimension() }

func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.guard.Do(ctx, domain.ErrEmbedding, func(ctx context.Context) error {
		v, err := g.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.inner.Name(), domain.IsTransient(err))
		return nil, err
	}
	if err := CheckDimension(g.inner.Dimension(), vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (g *Guarded) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := g.guard.Do(ctx, domain.ErrEmbedding, func(ctx context.Context) error {
		v, err := g.inner.EmbedMany(ctx, texts)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.inner.Name(), domain.IsTransient(err))
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", domain.ErrEmbedding, g.inner.Name(), len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := CheckDimension(g.inner.Dimension(), v); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// Close releases the wrapped embedder's client if it holds one.
func (g *Guarded) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CheckDimension fails with ErrEmbedding when v does not have dim entries.
func CheckDimension(dim int, v []float32) error {
	if len(v) != dim {
		return fmt.Errorf("%w: vector has dimension %d, expected %d", domain.ErrEmbedding, len(v), dim)
	}
	return nil
}
