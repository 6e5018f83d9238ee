package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "memory", cfg.Index.Type)
	assert.Equal(t, 5*time.Second, cfg.EmbeddingTimeout())
	assert.Equal(t, 20*time.Second, cfg.GenerationTimeout())
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.yaml")
	data := []byte(`
retrieval:
  top_k: 8
  min_similarity: 0.25
embedder:
  type: openai
synthesis:
  generator: openai
  low_confidence: 0.4
  confidence:
    top_weight: 1
    agreement_weight: 1
index:
  type: qdrant
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.25, cfg.Retrieval.MinSimilarity, 1e-9)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	require.NotNil(t, cfg.Synthesis.OpenAI)
	assert.Equal(t, "gpt-4o-mini", cfg.Synthesis.OpenAI.Model)
	assert.InDelta(t, 0.2, cfg.Synthesis.OpenAI.Temperature, 1e-6)
	assert.Equal(t, 500, cfg.Synthesis.OpenAI.MaxTokens)
	assert.Equal(t, 500, cfg.Synthesis.OpenAI.ExcerptChars)
	assert.Zero(t, cfg.Embedder.OpenAI.MaxTokens, "generation settings stay off the embedder")
	require.NotNil(t, cfg.Index.Qdrant)
	assert.Equal(t, "http://localhost:6333", cfg.Index.Qdrant.URL)
	assert.Equal(t, "course_content", cfg.Index.Qdrant.CollectionPrefix)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Chunker.TargetChars)
}

func TestLoadGeneratorSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.yaml")
	data := []byte(`
synthesis:
  generator: openai
  openai:
    model: gpt-4.1-mini
    temperature: 0.7
    max_tokens: 900
    excerpt_chars: -1
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	o := cfg.Synthesis.OpenAI
	require.NotNil(t, o)
	assert.Equal(t, "gpt-4.1-mini", o.Model)
	assert.InDelta(t, 0.7, o.Temperature, 1e-6)
	assert.Equal(t, 900, o.MaxTokens)
	assert.Equal(t, -1, o.ExcerptChars)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COURSEBOT_ADDR", ":9999")
	t.Setenv("COURSEBOT_DOCS_DIR", "/srv/docs")
	t.Setenv("COURSEBOT_TOP_K", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "/srv/docs", cfg.Corpus.DocsDir)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"overlap not smaller than target", func(c *AppConfig) { c.Chunker.OverlapChars = c.Chunker.TargetChars }},
		{"zero top k", func(c *AppConfig) { c.Retrieval.TopK = 0 }},
		{"cutoff above one", func(c *AppConfig) { c.Retrieval.MinSimilarity = 1.5 }},
		{"both weights zero", func(c *AppConfig) { c.Synthesis.Confidence = ConfidenceConfig{} }},
		{"negative weight", func(c *AppConfig) { c.Synthesis.Confidence.TopWeight = -1 }},
		{"low confidence zero", func(c *AppConfig) { c.Synthesis.LowConfidence = 0 }},
		{"zero timeout", func(c *AppConfig) { c.Timeouts.EmbeddingMilli = 0 }},
		{"too many retries", func(c *AppConfig) { c.Retry.MaxRetries = 10 }},
		{"request timeout below retry budget", func(c *AppConfig) { c.Server.RequestTimeoutSecs = 60 }},
		{"retries outgrow request timeout", func(c *AppConfig) { c.Retry.MaxRetries = 3 }},
		{"temperature out of range", func(c *AppConfig) { c.Synthesis.OpenAI = &OpenAIConfig{Temperature: 3} }},
		{"unknown store", func(c *AppConfig) { c.Store.Type = "redis" }},
		{"unknown index", func(c *AppConfig) { c.Index.Type = "faiss" }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultRequestTimeoutCoversRetryBudget(t *testing.T) {
	cfg := Default()
	// 3 attempts of 5s and 20s, each call waiting 200ms then 400ms between them
	assert.Equal(t, 76200*time.Millisecond, cfg.OnlineBudget())
	assert.GreaterOrEqual(t, time.Duration(cfg.Server.RequestTimeoutSecs)*time.Second, cfg.OnlineBudget())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Retrieval.TopK)
}
