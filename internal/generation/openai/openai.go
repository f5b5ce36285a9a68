// Package openai generates answers with any OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration
}

type Client struct {
	client *openai.Client
	cfg    Config
}

var _ domain.Answerer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	key, err := provider.APIKey(cfg.APIKeyEnv, cfg.BaseURL == defaultBaseURL)
	if err != nil {
		return nil, err
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", provider.OpenAIError(domain.ErrGeneration, c.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", domain.ErrGeneration)
	}
	return generation.NonEmpty(c.Name(), resp.Choices[0].Message.Content)
}
