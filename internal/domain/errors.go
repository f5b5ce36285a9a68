package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrExtraction         = errors.New("extraction error")
	ErrNoContent          = errors.New("document has no text")
	ErrConfiguration      = errors.New("configuration error")
	ErrEmbedding          = errors.New("embedding error")
	ErrGeneration         = errors.New("generation error")
	ErrIndex              = errors.New("index error")
	ErrAlreadyExists      = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// ProviderError is returned by adapters of external services.
// Kind is one of the sentinel errors above; Transient marks failures that may
// succeed when retried unchanged.
type ProviderError struct {
	Kind       error
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProviderError wraps err from provider into kind. A zero status means
// the call never produced an HTTP response; network failures and deadlines
// are then treated as transient.
func NewProviderError(kind error, provider string, status int, err error) *ProviderError {
	var transient bool
	switch {
	case status != 0:
		transient = TransientStatus(status)
	case errors.Is(err, context.DeadlineExceeded):
		transient = true
	default:
		var netErr net.Error
		transient = errors.As(err, &netErr)
	}
	return &ProviderError{Kind: kind, Provider: provider, StatusCode: status, Transient: transient, Err: err}
}

// IsTransient reports whether err, or any error it wraps, is a transient
// provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// TransientStatus reports whether an HTTP status code is worth one retry.
func TransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
