package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	embgemini "docqa/internal/embedding/gemini"
	"docqa/internal/embedding/hashing"
	embopenai "docqa/internal/embedding/openai"
	"docqa/internal/extractor"
	"docqa/internal/generation"
	"docqa/internal/generation/anthropic"
	gengemini "docqa/internal/generation/gemini"
	genopenai "docqa/internal/generation/openai"
	"docqa/internal/resilience"
	"docqa/internal/service"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
	"docqa/internal/vectorstore/sqlite"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func guardConfig(name string, r config.ResilienceConfig) resilience.Config {
	return resilience.Config{
		Name:              name,
		RequestsPerSecond: r.RequestsPerSecond,
		Burst:             r.Burst,
		RetryTransient:    r.RetryTransient,
		RetryDelay:        500 * time.Millisecond,
		MaxFailures:       r.Breaker.MaxFailures,
		OpenTimeout:       seconds(r.Breaker.OpenTimeoutSecs),
	}
}

// buildEmbedder assembles the configured embedder. Remote embedders are
// wrapped in a resilience guard; the local hashing embedder is not.
func buildEmbedder(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger, metrics *telemetry.Metrics) (domain.Embedder, error) {
	var remote domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		emb, err := hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "openai":
		c := cfg.Embedder.OpenAI
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:   c.BaseURL,
			APIKeyEnv: c.APIKeyEnv,
			Model:     c.Model,
			Dimension: c.Dimension,
			Timeout:   seconds(c.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		remote = client
	case "gemini":
		c := cfg.Embedder.Gemini
		client, err := embgemini.NewClient(ctx, embgemini.Config{APIKeyEnv: c.APIKeyEnv, Model: c.Model, Dimension: c.Dimension})
		if err != nil {
			return nil, err
		}
		remote = client
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Embedder.Type)
	}
	guard := resilience.New(guardConfig(remote.Name()+"-embed", cfg.Resilience), log)
	return embedding.NewGuarded(remote, guard, metrics), nil
}

func buildAnswerer(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger, metrics *telemetry.Metrics) (domain.Answerer, error) {
	var inner domain.Answerer
	switch cfg.Generator.Type {
	case "openai":
		c := cfg.Generator.OpenAI
		client, err := genopenai.NewClient(genopenai.Config{
			BaseURL:      c.BaseURL,
			APIKeyEnv:    c.APIKeyEnv,
			Model:        c.Model,
			SystemPrompt: c.SystemPrompt,
			Temperature:  c.Temperature,
			MaxTokens:    c.MaxTokens,
			Timeout:      seconds(c.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		inner = client
	case "gemini":
		c := cfg.Generator.Gemini
		client, err := gengemini.NewClient(ctx, gengemini.Config{
			APIKeyEnv:       c.APIKeyEnv,
			Model:           c.Model,
			SystemPrompt:    c.SystemPrompt,
			Temperature:     c.Temperature,
			MaxOutputTokens: c.MaxOutputTokens,
		})
		if err != nil {
			return nil, err
		}
		inner = client
	case "anthropic":
		c := cfg.Generator.Anthropic
		client, err := anthropic.NewClient(anthropic.Config{
			BaseURL:      c.BaseURL,
			APIKeyEnv:    c.APIKeyEnv,
			Model:        c.Model,
			SystemPrompt: c.SystemPrompt,
			Temperature:  c.Temperature,
			MaxTokens:    c.MaxTokens,
			Timeout:      seconds(c.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		inner = client
	default:
		return nil, fmt.Errorf("%w: unknown generator: %s", domain.ErrConfiguration, cfg.Generator.Type)
	}
	guard := resilience.New(guardConfig(inner.Name()+"-generate", cfg.Resilience), log)
	return generation.NewGuarded(inner, guard, metrics), nil
}

func buildIndex(ctx context.Context, cfg *config.AppConfig) (domain.VectorIndex, error) {
	switch cfg.VectorStore.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(qdrant.Config{URL: q.URL, APIKey: q.APIKey, Timeout: seconds(q.TimeoutSecs)}), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.VectorStore.SQLite.Path})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store: %s", domain.ErrConfiguration, cfg.VectorStore.Type)
	}
}

// buildService assembles every adapter from cfg. On error, anything already
// opened is closed before returning.
func buildService(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger, metrics *telemetry.Metrics) (*service.Service, error) {
	ch, err := chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(ctx, cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	ans, err := buildAnswerer(ctx, cfg, log, metrics)
	if err != nil {
		closeQuietly(emb)
		return nil, err
	}
	idx, err := buildIndex(ctx, cfg)
	if err != nil {
		closeQuietly(emb)
		closeQuietly(ans)
		return nil, err
	}

	components := service.Components{
		Extractor: extractor.New(extractor.Config{MaxBytes: cfg.Extractor.MaxBytes}),
		Chunker:   ch,
		Embedder:  emb,
		Index:     idx,
		Answerer:  ans,
	}
	opts := service.Options{
		Ingest: service.IngestOptions{
			Collection:      cfg.Collection.Name,
			Distance:        domain.Distance(cfg.Collection.Distance),
			BatchSize:       cfg.Embedder.BatchSize,
			Workers:         cfg.Embedder.Workers,
			UpsertBatchSize: cfg.VectorStore.UpsertBatchSize,
		},
		Query: service.QueryOptions{
			Collection: cfg.Collection.Name,
			TopK:       cfg.Query.TopK,
			MinScore:   cfg.Query.MinScore,
		},
	}
	return service.New(components, opts, log, metrics), nil
}

func closeQuietly(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
