// Package anthropic generates answers with Claude models through the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/provider"
)

const name = "anthropic"

type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int64
	Timeout      time.Duration
}

type Client struct {
	client anthropic.Client
	cfg    Config
}

var _ domain.Answerer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	key, err := provider.APIKey(cfg.APIKeyEnv, true)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// retries are handled by the resilience guard
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (c *Client) Name() string { return name }

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(c.cfg.Temperature),
	}
	if c.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.cfg.SystemPrompt}}
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return generation.NonEmpty(name, b.String())
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(domain.ErrGeneration, name, apiErr.StatusCode, fmt.Errorf("messages: %w", err))
	}
	return domain.NewProviderError(domain.ErrGeneration, name, 0, err)
}
