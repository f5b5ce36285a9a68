package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// CollectionConfig names the collection a document is indexed into.
type CollectionConfig struct {
	Name     string `yaml:"name"`
	Distance string `yaml:"distance"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type ExtractorConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                 `yaml:"type"`
	BatchSize int                    `yaml:"batch_size"`
	Workers   int                    `yaml:"workers"`
	OpenAI    *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Gemini    *GeminiEmbedderConfig  `yaml:"gemini,omitempty"`
	Hashing   *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

type OpenAIGeneratorConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt,omitempty"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
}

type GeminiGeneratorConfig struct {
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model"`
	SystemPrompt    string  `yaml:"system_prompt,omitempty"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

type AnthropicGeneratorConfig struct {
	BaseURL      string  `yaml:"base_url,omitempty"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt,omitempty"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int64   `yaml:"max_tokens"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
}

// GeneratorConfig selects and configures the generative answerer.
type GeneratorConfig struct {
	Type      string                    `yaml:"type"`
	OpenAI    *OpenAIGeneratorConfig    `yaml:"openai,omitempty"`
	Gemini    *GeminiGeneratorConfig    `yaml:"gemini,omitempty"`
	Anthropic *AnthropicGeneratorConfig `yaml:"anthropic,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type            string        `yaml:"type"`
	UpsertBatchSize int           `yaml:"upsert_batch_size"`
	Qdrant          *QdrantConfig `yaml:"qdrant,omitempty"`
	SQLite          *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QueryConfig tunes retrieval. MinScore is nil unless a threshold is wanted.
type QueryConfig struct {
	TopK     int      `yaml:"top_k"`
	MinScore *float64 `yaml:"min_score,omitempty"`
}

type BreakerConfig struct {
	MaxFailures     uint32 `yaml:"max_failures"`
	OpenTimeoutSecs int    `yaml:"open_timeout_secs"`
}

// ResilienceConfig applies to every embedding and generation call.
type ResilienceConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	RetryTransient    bool          `yaml:"retry_transient"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Collection  CollectionConfig  `yaml:"collection"`
	Chunker     *ChunkerConfig    `yaml:"chunker,omitempty"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Query       QueryConfig       `yaml:"query"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// ${VAR} references are expanded from the environment and unknown keys are rejected.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg AppConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting as ErrConfiguration.
func (c *AppConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Collection.Name == "":
		return fail("collection.name is empty")
	case !domain.Distance(c.Collection.Distance).Valid():
		return fail("collection.distance %q is not one of cosine, dot, euclidean", c.Collection.Distance)
	case c.Chunker == nil:
		return fail("chunker section is missing")
	case c.Chunker.ChunkSize <= 0:
		return fail("chunker.chunk_size must be positive")
	case c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize:
		return fail("chunker.chunk_overlap must be in [0, chunk_size)")
	case c.Extractor.MaxBytes <= 0:
		return fail("extractor.max_bytes must be positive")
	case c.Embedder.BatchSize <= 0 || c.Embedder.Workers <= 0:
		return fail("embedder.batch_size and embedder.workers must be positive")
	case c.VectorStore.UpsertBatchSize <= 0:
		return fail("vector_store.upsert_batch_size must be positive")
	case c.Query.TopK <= 0:
		return fail("query.top_k must be positive")
	case c.Resilience.RequestsPerSecond < 0:
		return fail("resilience.requests_per_second must not be negative")
	case c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1:
		return fail("telemetry.sample_ratio must be in [0, 1]")
	}

	switch c.Embedder.Type {
	case "openai", "gemini", "hashing":
	default:
		return fail("unknown embedder type %q", c.Embedder.Type)
	}
	switch c.Generator.Type {
	case "openai", "gemini", "anthropic":
	default:
		return fail("unknown generator type %q", c.Generator.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant.URL == "" {
			return fail("vector_store.qdrant.url is empty")
		}
	case "sqlite":
		if c.VectorStore.SQLite.Path == "" {
			return fail("vector_store.sqlite.path is empty")
		}
	default:
		return fail("unknown vector store type %q", c.VectorStore.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Collection:  CollectionConfig{Name: "documents", Distance: string(domain.DistanceCosine)},
		Chunker:     &ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 100},
		Embedder:    EmbedderConfig{Type: "hashing"},
		Generator:   GeneratorConfig{Type: "openai"},
		VectorStore: VectorStoreConfig{Type: "sqlite"},
		Resilience:  ResilienceConfig{RetryTransient: true},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Collection.Name == "" {
		cfg.Collection.Name = "documents"
	}
	if cfg.Collection.Distance == "" {
		cfg.Collection.Distance = string(domain.DistanceCosine)
	}
	// an explicit chunk_overlap, zero included, is kept as written
	if cfg.Chunker == nil {
		cfg.Chunker = &ChunkerConfig{ChunkOverlap: 100}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Extractor.MaxBytes == 0 {
		cfg.Extractor.MaxBytes = 64 << 20
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}

	applyEmbedderDefaults(&cfg.Embedder)
	applyGeneratorDefaults(&cfg.Generator)

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "sqlite"
	}
	if cfg.VectorStore.UpsertBatchSize == 0 {
		cfg.VectorStore.UpsertBatchSize = 64
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.VectorStore.Type == "sqlite" {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = "docqa.db"
		}
	}

	if cfg.Resilience.Breaker.MaxFailures == 0 {
		cfg.Resilience.Breaker.MaxFailures = 5
	}
	if cfg.Resilience.Breaker.OpenTimeoutSecs == 0 {
		cfg.Resilience.Breaker.OpenTimeoutSecs = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "docqa"
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

func applyEmbedderDefaults(e *EmbedderConfig) {
	if e.Type == "" {
		e.Type = "hashing"
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.Workers == 0 {
		e.Workers = 4
	}
	switch e.Type {
	case "openai":
		if e.OpenAI == nil {
			e.OpenAI = &OpenAIEmbedderConfig{}
		}
		if e.OpenAI.BaseURL == "" {
			e.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if e.OpenAI.APIKeyEnv == "" {
			e.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if e.OpenAI.Model == "" {
			e.OpenAI.Model = "text-embedding-3-small"
		}
		if e.OpenAI.TimeoutSecs == 0 {
			e.OpenAI.TimeoutSecs = 30
		}
	case "gemini":
		if e.Gemini == nil {
			e.Gemini = &GeminiEmbedderConfig{}
		}
		if e.Gemini.APIKeyEnv == "" {
			e.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if e.Gemini.Model == "" {
			e.Gemini.Model = "text-embedding-004"
		}
		if e.Gemini.Dimension == 0 {
			e.Gemini.Dimension = 768
		}
	case "hashing":
		if e.Hashing == nil {
			e.Hashing = &HashingEmbedderConfig{}
		}
		if e.Hashing.Dimension == 0 {
			e.Hashing.Dimension = 512
		}
	}
}

func applyGeneratorDefaults(g *GeneratorConfig) {
	if g.Type == "" {
		g.Type = "openai"
	}
	switch g.Type {
	case "openai":
		if g.OpenAI == nil {
			g.OpenAI = &OpenAIGeneratorConfig{}
		}
		if g.OpenAI.BaseURL == "" {
			g.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if g.OpenAI.APIKeyEnv == "" {
			g.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if g.OpenAI.Model == "" {
			g.OpenAI.Model = "gpt-4o-mini"
		}
		if g.OpenAI.TimeoutSecs == 0 {
			g.OpenAI.TimeoutSecs = 60
		}
	case "gemini":
		if g.Gemini == nil {
			g.Gemini = &GeminiGeneratorConfig{}
		}
		if g.Gemini.APIKeyEnv == "" {
			g.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if g.Gemini.Model == "" {
			g.Gemini.Model = "gemini-2.0-flash"
		}
	case "anthropic":
		if g.Anthropic == nil {
			g.Anthropic = &AnthropicGeneratorConfig{}
		}
		if g.Anthropic.APIKeyEnv == "" {
			g.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
		if g.Anthropic.Model == "" {
			g.Anthropic.Model = "claude-3-5-haiku-latest"
		}
		if g.Anthropic.MaxTokens == 0 {
			g.Anthropic.MaxTokens = 1024
		}
		if g.Anthropic.TimeoutSecs == 0 {
			g.Anthropic.TimeoutSecs = 60
		}
	}
}
