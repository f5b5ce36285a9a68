// Package openai embeds text through any OpenAI-compatible embeddings
// endpoint (OpenAI, Azure-style proxies, Ollama, vLLM).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// knownDimensions lists output sizes of common models so the collection can be
// sized before the first call.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimension overrides the model's native size. For text-embedding-3
	// models it is also sent as the requested output size.
	Dimension int
	Timeout   time.Duration
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	client         *openai.Client
	model          string
	dimension      int
	sendDimensions bool
}

var _ domain.Embedder = (*Client)(nil)

// NewClient creates a new embeddings client using the provided configuration.
// The API key is only required when talking to the default OpenAI endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	key, err := provider.APIKey(cfg.APIKeyEnv, cfg.BaseURL == defaultBaseURL)
	if err != nil {
		return nil, err
	}
	dim, known := knownDimensions[cfg.Model]
	sendDimensions := false
	if cfg.Dimension > 0 {
		sendDimensions = cfg.Dimension != dim && (cfg.Model == "text-embedding-3-small" || cfg.Model == "text-embedding-3-large")
		dim = cfg.Dimension
	} else if !known {
		return nil, fmt.Errorf("%w: unknown dimension for embedding model %q, set embedder.openai.dimension", domain.ErrConfiguration, cfg.Model)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}

	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		dimension:      dim,
		sendDimensions: sendDimensions,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in a single request; vectors come back in input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}
	if c.sendDimensions {
		req.Dimensions = c.dimension
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, provider.OpenAIError(domain.ErrEmbedding, c.Name(), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", domain.ErrEmbedding, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: openai returned an unexpected embedding index %d", domain.ErrEmbedding, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
