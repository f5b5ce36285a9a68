// Package gemini embeds text with Google's Gemini embedding models.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docqa/internal/domain"
	"docqa/internal/provider"
)

// maxBatch is the largest request BatchEmbedContents accepts.
const maxBatch = 100

type Config struct {
	APIKeyEnv string
	Model     string
	Dimension int
}

// Client embeds documents and queries with separate task types, as the
// retrieval models expect.
type Client struct {
	client    *genai.Client
	documents *genai.EmbeddingModel
	queries   *genai.EmbeddingModel
	dimension int

	embedQuery     func(ctx context.Context, text string) (*genai.ContentEmbedding, error)
	embedDocuments func(ctx context.Context, texts []string) ([]*genai.ContentEmbedding, error)
}

var _ domain.Embedder = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	key, err := provider.APIKey(cfg.APIKeyEnv, true)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", domain.ErrConfiguration, err)
	}
	c := &Client{
		client:    client,
		documents: client.EmbeddingModel(cfg.Model),
		queries:   client.EmbeddingModel(cfg.Model),
		dimension: cfg.Dimension,
	}
	c.documents.TaskType = genai.TaskTypeRetrievalDocument
	c.queries.TaskType = genai.TaskTypeRetrievalQuery
	c.embedQuery = c.queryContent
	c.embedDocuments = c.batchContents
	return c, nil
}

func (c *Client) Name() string   { return "gemini" }
func (c *Client) Dimension() int { return c.dimension }

// Embed embeds a search query.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := c.embedQuery(ctx, text)
	if err != nil {
		return nil, provider.GeminiError(domain.ErrEmbedding, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: gemini returned no embedding", domain.ErrEmbedding)
	}
	return e.Values, nil
}

// EmbedMany embeds document chunks in requests of at most maxBatch texts.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		embeddings, err := c.embedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, provider.GeminiError(domain.ErrEmbedding, err)
		}
		if len(embeddings) != end-start {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", domain.ErrEmbedding, len(embeddings), end-start)
		}
		for _, e := range embeddings {
			if e == nil {
				return nil, fmt.Errorf("%w: gemini returned an empty embedding", domain.ErrEmbedding)
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) queryContent(ctx context.Context, text string) (*genai.ContentEmbedding, error) {
	resp, err := c.queries.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

func (c *Client) batchContents(ctx context.Context, texts []string) ([]*genai.ContentEmbedding, error) {
	batch := c.documents.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := c.documents.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
