// Package gemini generates answers with Google's Gemini models.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/provider"
)

type Config struct {
	APIKeyEnv       string
	Model           string
	SystemPrompt    string
	Temperature     float32
	MaxOutputTokens int32
}

type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

var _ domain.Answerer = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	key, err := provider.APIKey(cfg.APIKeyEnv, true)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", domain.ErrConfiguration, err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}
	if cfg.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.SystemPrompt)}}
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", provider.GeminiError(domain.ErrGeneration, err)
	}
	return generation.NonEmpty(c.Name(), responseText(resp))
}

func (c *Client) Close() error { return c.client.Close() }

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
