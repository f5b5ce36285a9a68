// Package provider holds client setup and error classification shared by the
// embedding and generation adapters of the same vendor.
package provider

import (
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docqa/internal/domain"
)

// APIKey reads the key from the environment variable named env.
func APIKey(env string, required bool) (string, error) {
	key := os.Getenv(env)
	if key == "" && required {
		return "", fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, env)
	}
	return key, nil
}

// OpenAIError classifies an error returned by the go-openai client.
func OpenAIError(kind error, name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(kind, name, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewProviderError(kind, name, reqErr.HTTPStatusCode, err)
	}
	return domain.NewProviderError(kind, name, 0, err)
}

var transientCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.ResourceExhausted: true,
	codes.DeadlineExceeded:  true,
	codes.Aborted:           true,
	codes.Internal:          true,
}

// GeminiError classifies an error returned by the genai client, which may
// surface either an HTTP or a gRPC status.
func GeminiError(kind error, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return domain.NewProviderError(kind, "gemini", gErr.Code, err)
	}
	var httpErr interface{ HTTPCode() int }
	if errors.As(err, &httpErr) && httpErr.HTTPCode() > 0 {
		return domain.NewProviderError(kind, "gemini", httpErr.HTTPCode(), err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		pe := domain.NewProviderError(kind, "gemini", 0, err)
		pe.Transient = transientCodes[st.Code()]
		return pe
	}
	return domain.NewProviderError(kind, "gemini", 0, err)
}
