package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/domain"
	"coursebot/internal/resilience"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

var excerpts = []domain.ScoredChunk{{
	Chunk: domain.Chunk{ID: "a", Module: "ros2", Chapter: "nodes", Title: "Nodes", Text: "A node is a process that performs computation."},
	Score: 0.8,
}}

func TestGenerateSendsGroundedPrompt(t *testing.T) {
	t.Setenv("TEST_CHAT_KEY", "test-key")
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "  A node is a process.  "},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	g, err := NewGenerator(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_CHAT_KEY", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), "What is a node?", excerpts)
	require.NoError(t, err)
	assert.Equal(t, "A node is a process.", out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 1e-6)
	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "only the course excerpts")
	assert.Contains(t, got.Messages[1].Content, "Excerpt 1 (Module: ros2, Chapter: nodes):")
	assert.Contains(t, got.Messages[1].Content, "Question: What is a node?")
}

func TestGenerateMarksClientErrorsPermanent(t *testing.T) {
	t.Setenv("TEST_CHAT_KEY", "test-key")
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	g, err := NewGenerator(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_CHAT_KEY"})
	require.NoError(t, err)

	calls := 0
	policy := resilience.Policy{MaxRetries: 3, Backoff: time.Millisecond}
	err = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		_, err := g.Generate(ctx, "q", excerpts)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	status.Store(http.StatusServiceUnavailable)
	calls = 0
	err = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		_, err := g.Generate(ctx, "q", excerpts)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestNewGeneratorRequiresKey(t *testing.T) {
	_, err := NewGenerator(Config{APIKeyEnv: "COURSEBOT_TEST_UNSET_KEY"})
	assert.Error(t, err)
}

func TestBuildPromptTruncatesExcerpts(t *testing.T) {
	long := []domain.ScoredChunk{{Chunk: domain.Chunk{Module: "m", Chapter: "c", Text: strings.Repeat("x", 50)}}}
	p := BuildPrompt("q", long, 10)
	assert.Contains(t, p, "Content: "+strings.Repeat("x", 10)+"...\n")
	assert.NotContains(t, p, strings.Repeat("x", 11))
}
