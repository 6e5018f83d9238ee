package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coursebot/internal/resilience"
)

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr                string   `yaml:"addr"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	RequestTimeoutSecs  int      `yaml:"request_timeout_secs"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs"`
}

// CorpusConfig points at the course source documents, the durable source of truth.
type CorpusConfig struct {
	DocsDir       string   `yaml:"docs_dir"`
	Extensions    []string `yaml:"extensions"`
	Watch         bool     `yaml:"watch"`
	DebounceMilli int      `yaml:"debounce_ms"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type         string `yaml:"type"`
	TargetChars  int    `yaml:"target_chars"`
	OverlapChars int    `yaml:"overlap_chars"`
	MinChars     int    `yaml:"min_chars"`
}

// OpenAIConfig holds settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size,omitempty"`

	// Chat generation only. A negative excerpt_chars keeps whole chunks in the prompt.
	Temperature  float32 `yaml:"temperature,omitempty"`
	MaxTokens    int     `yaml:"max_tokens,omitempty"`
	ExcerptChars int     `yaml:"excerpt_chars,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type"`
	Dimension int           `yaml:"dimension"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// IndexConfig selects the vector index backend and build parallelism.
type IndexConfig struct {
	Type      string        `yaml:"type"`
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"`
	Qdrant    *QdrantConfig `yaml:"qdrant,omitempty"`
}

// StoreConfig selects the chunk store.
type StoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// RetrievalConfig holds the ranking constants.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	MinSimilarity  float64 `yaml:"min_similarity"`
	QueryCacheSize int     `yaml:"query_cache_size"`
}

// ConfidenceConfig weights the two confidence signals.
type ConfidenceConfig struct {
	TopWeight       float64 `yaml:"top_weight"`
	AgreementWeight float64 `yaml:"agreement_weight"`
}

// SynthesisConfig selects the generator and grounding policy.
type SynthesisConfig struct {
	Generator           string           `yaml:"generator"`
	MaxSentences        int              `yaml:"max_sentences"`
	GroundingMinOverlap float64          `yaml:"grounding_min_overlap"`
	LowConfidence       float64          `yaml:"low_confidence"`
	Confidence          ConfidenceConfig `yaml:"confidence"`
	OpenAI              *OpenAIConfig    `yaml:"openai,omitempty"`
}

// TimeoutConfig bounds the two suspension points of the online path.
type TimeoutConfig struct {
	EmbeddingMilli  int `yaml:"embedding_ms"`
	GenerationMilli int `yaml:"generation_ms"`
}

// RetryConfig bounds online retries.
type RetryConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	BackoffMilli int `yaml:"backoff_ms"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Retry     RetryConfig     `yaml:"retry"`
	Log       LogConfig       `yaml:"log"`
}

// EmbeddingTimeout is the per-attempt bound on an embedding call.
func (c *AppConfig) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Timeouts.EmbeddingMilli) * time.Millisecond
}

// GenerationTimeout is the per-attempt bound on a generation call.
func (c *AppConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.Timeouts.GenerationMilli) * time.Millisecond
}

// Backoff is the base delay between online retries.
func (c *AppConfig) Backoff() time.Duration {
	return time.Duration(c.Retry.BackoffMilli) * time.Millisecond
}

// OnlineBudget is the worst case for one chat request: a fully retried query embedding followed by
// a fully retried generation.
func (c *AppConfig) OnlineBudget() time.Duration {
	embed := resilience.Policy{Timeout: c.EmbeddingTimeout(), MaxRetries: c.Retry.MaxRetries, Backoff: c.Backoff()}
	gen := resilience.Policy{Timeout: c.GenerationTimeout(), MaxRetries: c.Retry.MaxRetries, Backoff: c.Backoff()}
	return embed.Budget() + gen.Budget()
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./coursebot.yaml first, then ~/.config/coursebot/config.yaml.
// If neither exists, it writes defaults to ~/.config/coursebot/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "coursebot.yaml"
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
	if err := Save(userPath, Default()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
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

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "coursebot", "config.yaml"), nil
}

// Default returns the built-in configuration: local TF-IDF embeddings, an in-memory
// index, a sqlite chunk store and the extractive generator.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:                ":8000",
			AllowedOrigins:      []string{"http://localhost:*", "https://*"},
			RequestTimeoutSecs:  90,
			ShutdownTimeoutSecs: 10,
		},
		Corpus: CorpusConfig{
			DocsDir:       "website/docs",
			Extensions:    []string{".md", ".mdx", ".txt"},
			DebounceMilli: 2000,
		},
		Chunker:   ChunkerConfig{Type: "sentence", TargetChars: 1000, OverlapChars: 150, MinChars: 50},
		Embedder:  EmbedderConfig{Type: "tfidf"},
		Index:     IndexConfig{Type: "memory", BatchSize: 64, Workers: 4},
		Store:     StoreConfig{Type: "sqlite", Path: "data/chunks.db"},
		Retrieval: RetrievalConfig{TopK: 5, MinSimilarity: 0.1, QueryCacheSize: 1024},
		Synthesis: SynthesisConfig{
			Generator:           "extractive",
			MaxSentences:        3,
			GroundingMinOverlap: 0.5,
			LowConfidence:       0.3,
			Confidence:          ConfidenceConfig{TopWeight: 0.7, AgreementWeight: 0.3},
		},
		Timeouts: TimeoutConfig{EmbeddingMilli: 5000, GenerationMilli: 20000},
		Retry:    RetryConfig{MaxRetries: 2, BackoffMilli: 200},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = def.Chunker.Type
	}
	if cfg.Chunker.TargetChars == 0 {
		cfg.Chunker.TargetChars = def.Chunker.TargetChars
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = def.Index.BatchSize
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = def.Index.Workers
	}
	if cfg.Embedder.Type == "openai" {
		cfg.Embedder.OpenAI = withOpenAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small")
	}
	if cfg.Synthesis.Generator == "openai" {
		cfg.Synthesis.OpenAI = withOpenAIDefaults(cfg.Synthesis.OpenAI, "gpt-4o-mini")
		if cfg.Synthesis.OpenAI.Temperature == 0 {
			cfg.Synthesis.OpenAI.Temperature = 0.2
		}
		if cfg.Synthesis.OpenAI.MaxTokens == 0 {
			cfg.Synthesis.OpenAI.MaxTokens = 500
		}
		if cfg.Synthesis.OpenAI.ExcerptChars == 0 {
			cfg.Synthesis.OpenAI.ExcerptChars = 500
		}
	}
	if cfg.Index.Type == "qdrant" {
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		if cfg.Index.Qdrant.URL == "" {
			cfg.Index.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.Index.Qdrant.CollectionPrefix == "" {
			cfg.Index.Qdrant.CollectionPrefix = "course_content"
		}
		if cfg.Index.Qdrant.TimeoutSecs == 0 {
			cfg.Index.Qdrant.TimeoutSecs = 15
		}
	}
}

func withOpenAIDefaults(in *OpenAIConfig, model string) *OpenAIConfig {
	out := &OpenAIConfig{}
	if in != nil {
		*out = *in
	}
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com/v1"
	}
	if out.APIKeyEnv == "" {
		out.APIKeyEnv = "OPENAI_API_KEY"
	}
	if out.Model == "" {
		out.Model = model
	}
	if out.BatchSize == 0 {
		out.BatchSize = 32
	}
	return out
}

func applyEnvOverrides(cfg *AppConfig) {
	cfg.Server.Addr = getEnv("COURSEBOT_ADDR", cfg.Server.Addr)
	cfg.Corpus.DocsDir = getEnv("COURSEBOT_DOCS_DIR", cfg.Corpus.DocsDir)
	cfg.Store.Path = getEnv("COURSEBOT_STORE_PATH", cfg.Store.Path)
	cfg.Log.Level = getEnv("COURSEBOT_LOG_LEVEL", cfg.Log.Level)
	cfg.Retrieval.TopK = getEnvAsInt("COURSEBOT_TOP_K", cfg.Retrieval.TopK)
	if v := os.Getenv("COURSEBOT_EMBEDDER"); v != "" {
		cfg.Embedder.Type = v
	}
	if v := os.Getenv("COURSEBOT_GENERATOR"); v != "" {
		cfg.Synthesis.Generator = v
	}
	if v := os.Getenv("COURSEBOT_QDRANT_URL"); v != "" {
		cfg.Index.Type = "qdrant"
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		cfg.Index.Qdrant.URL = v
	}
	applyConfigDefaults(cfg)
}

// Validate rejects settings that would make ranking or confidence meaningless.
func (c *AppConfig) Validate() error {
	if c.Chunker.TargetChars <= 0 {
		return errors.New("chunker.target_chars must be positive")
	}
	if c.Chunker.OverlapChars < 0 || c.Chunker.OverlapChars >= c.Chunker.TargetChars {
		return fmt.Errorf("chunker.overlap_chars %d must be in [0, target_chars)", c.Chunker.OverlapChars)
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("retrieval.top_k must be positive")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return errors.New("retrieval.min_similarity must be in [0, 1]")
	}
	w := c.Synthesis.Confidence
	if w.TopWeight < 0 || w.AgreementWeight < 0 || w.TopWeight+w.AgreementWeight == 0 {
		return errors.New("synthesis.confidence weights must be non-negative and not both zero")
	}
	if c.Synthesis.LowConfidence <= 0 || c.Synthesis.LowConfidence > 1 {
		return errors.New("synthesis.low_confidence must be in (0, 1]")
	}
	if c.Synthesis.GroundingMinOverlap < 0 || c.Synthesis.GroundingMinOverlap > 1 {
		return errors.New("synthesis.grounding_min_overlap must be in [0, 1]")
	}
	if c.Embedder.Dimension < 0 {
		return errors.New("embedder.dimension cannot be negative")
	}
	if c.Timeouts.EmbeddingMilli <= 0 || c.Timeouts.GenerationMilli <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.Retry.MaxRetries < 0 || c.Retry.MaxRetries > 5 {
		return errors.New("retry.max_retries must be in [0, 5]")
	}
	// a shorter request deadline would cut retries off and answer 503 where a retry could succeed
	if budget := c.OnlineBudget(); time.Duration(c.Server.RequestTimeoutSecs)*time.Second < budget {
		return fmt.Errorf("server.request_timeout_secs %d is below the retry budget of %s", c.Server.RequestTimeoutSecs, budget)
	}
	if o := c.Synthesis.OpenAI; o != nil && (o.Temperature < 0 || o.Temperature > 2 || o.MaxTokens < 0) {
		return errors.New("synthesis.openai temperature must be in [0, 2] and max_tokens non-negative")
	}
	switch c.Store.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.Index.Type {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown index type %q", c.Index.Type)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
