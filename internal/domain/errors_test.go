package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorMatchesKindAndCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("embed chunk 3: %w", &ProviderError{
		Kind:      ErrEmbedding,
		Provider:  "openai",
		Transient: true,
		Err:       cause,
	})

	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrGeneration)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "openai")
}

func TestIsTransientOnPlainError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(&ProviderError{Kind: ErrGeneration, StatusCode: 401}))
}

func TestTransientStatus(t *testing.T) {
	for code, want := range map[int]bool{400: false, 401: false, 403: false, 404: false, 408: true, 429: true, 500: true, 503: true} {
		assert.Equal(t, want, TransientStatus(code), "status %d", code)
	}
}

func TestDistanceValid(t *testing.T) {
	assert.True(t, DistanceCosine.Valid())
	assert.True(t, DistanceEuclidean.Valid())
	assert.False(t, Distance("manhattan").Valid())
}

func TestNewProviderErrorClassification(t *testing.T) {
	assert.True(t, NewProviderError(ErrEmbedding, "x", 503, errors.New("unavailable")).Transient)
	assert.False(t, NewProviderError(ErrEmbedding, "x", 401, errors.New("unauthorized")).Transient)
	assert.True(t, NewProviderError(ErrGeneration, "x", 0, context.DeadlineExceeded).Transient)
	assert.True(t, NewProviderError(ErrGeneration, "x", 0, &net.OpError{Op: "dial", Err: errors.New("refused")}).Transient)
	assert.False(t, NewProviderError(ErrGeneration, "x", 0, context.Canceled).Transient)
}
