// Package generation wraps generative answerers. The concrete adapters live
// in subpackages.
package generation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/resilience"
	"docqa/internal/telemetry"
)

// Guarded applies a resilience guard to the wrapped answerer. An open breaker
// surfaces as ErrGeneration; no fallback answer is ever produced.
type Guarded struct {
	inner   domain.Answerer
	guard   *resilience.Guard
	metrics *telemetry.Metrics
}

var _ domain.Answerer = (*Guarded)(nil)

func NewGuarded(inner domain.Answerer, guard *resilience.Guard, metrics *telemetry.Metrics) *Guarded {
	return &Guarded{inner: inner, guard: guard, metrics: metrics}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := g.guard.Do(ctx, domain.ErrGeneration, func(ctx context.Context) error {
		a, err := g.inner.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.inner.Name(), domain.IsTransient(err))
		return "", err
	}
	return answer, nil
}

func (g *Guarded) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NonEmpty returns text trimmed, or ErrGeneration when nothing is left.
func NonEmpty(name, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned an empty completion", domain.ErrGeneration, name)
	}
	return text, nil
}
