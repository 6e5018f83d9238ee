package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

func fakeServer(t *testing.T, dim func(req embeddingRequest) int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		// answer in reverse order to check reordering by index
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim(req))
			vec[0] = float32(len(req.Input[i]))
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatchesAndOrders(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "test-key")
	var calls int32
	srv := fakeServer(t, func(embeddingRequest) int { return 4 }, &calls)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY", BatchSize: 2})
	require.NoError(t, err)
	model, err := c.Prepare(context.Background(), nil)
	require.NoError(t, err)

	vecs, err := model.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{1, 0, 0, 0}, vecs[0])
	assert.Equal(t, 2.0, vecs[1][0])
	assert.Equal(t, 3.0, vecs[2][0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 4, model.Dimension())
}

func TestEmbedEnforcesConfiguredDimension(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "test-key")
	var calls int32
	srv := fakeServer(t, func(req embeddingRequest) int {
		assert.Equal(t, 8, req.Dimensions)
		return 3
	}, &calls)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY", Dimension: 8})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "dimension 3, expected 8")
}

func TestEmbedUpstreamFailure(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "test-key")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_OPENAI_KEY"})
	assert.Error(t, err)
}
