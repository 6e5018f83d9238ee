package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coursebot/internal/chat"
	"coursebot/internal/domain"
	"coursebot/internal/embedding/tfidf"
	"coursebot/internal/index"
	indexmemory "coursebot/internal/index/memory"
	"coursebot/internal/metrics"
	"coursebot/internal/resilience"
	"coursebot/internal/retriever"
	storememory "coursebot/internal/store/memory"
	"coursebot/internal/synth"
)

var courseChunks = []domain.Chunk{
	{ID: "A", DocPath: "ros2/nodes.md", Title: "Nodes", Module: "ros2", Chapter: "nodes", Text: "ROS 2 uses nodes and topics"},
	{ID: "B", DocPath: "simulation/gazebo.md", Title: "Gazebo", Module: "simulation", Chapter: "gazebo", Text: "Gazebo simulates physics"},
}

func courseStore(t *testing.T) *storememory.Store {
	t.Helper()
	st := storememory.NewStore()
	for _, c := range courseChunks {
		require.NoError(t, st.Replace(context.Background(), c.DocPath, []domain.Chunk{c}))
	}
	return st
}

type stack struct {
	holder  *index.Holder
	metrics *metrics.Metrics
	router  http.Handler
}

func newStack(t *testing.T, build bool) *stack {
	t.Helper()
	m := metrics.New()
	holder := index.NewHolder(index.NewBuilder(tfidf.NewEmbedder(0), indexmemory.NewFactory(), index.BuilderOptions{}), zap.NewNop(), m)
	t.Cleanup(func() { _ = holder.Close(context.Background()) })
	if build {
		_, err := holder.Rebuild(context.Background(), courseChunks)
		require.NoError(t, err)
	}
	policy := resilience.Policy{Timeout: time.Second, MaxRetries: 1, Backoff: time.Millisecond}
	r, err := retriever.New(holder, retriever.Options{TopK: 5, MinSimilarity: 0.1, CacheSize: 16, Embedding: policy}, zap.NewNop(), m)
	require.NoError(t, err)
	s := synth.New(nil, synth.NewExtractive(3), synth.Options{
		TopWeight: 0.7, AgreementWeight: 0.3, GroundingMinOverlap: 0.5, Generation: policy,
	}, zap.NewNop(), m)
	svc := chat.NewService(r, s, courseStore(t), zap.NewNop(), m)
	h := NewHandler(svc, holder, "test", zap.NewNop())
	return &stack{holder: holder, metrics: m, router: NewRouter(h, m, RouterOptions{AllowedOrigins: []string{"https://course.example"}})}
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chat.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp chat.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChatAnswersFromMatchingChunk(t *testing.T) {
	s := newStack(t, true)
	resp := decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a ROS 2 node?"}`))
	assert.Equal(t, []string{"A"}, resp.Sources)
	assert.Equal(t, "ROS 2 uses nodes and topics", resp.Answer)
	assert.GreaterOrEqual(t, resp.Confidence, 0.3)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.True(t, resp.GroundedInBook)
	assert.NotEmpty(t, resp.QueryID)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
}

func TestChatRefusesUncoveredQuestion(t *testing.T) {
	s := newStack(t, true)
	rec := post(t, s.router, "/chat", `{"question":"What is quantum computing?"}`)
	resp := decodeChat(t, rec)
	assert.Equal(t, synth.RefusalText, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Less(t, resp.Confidence, 0.3)
	assert.False(t, resp.GroundedInBook)
	// an empty source list is still a list on the wire
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestChatModuleFilterExcludesOtherModules(t *testing.T) {
	s := newStack(t, true)
	resp := decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a node?","module_context":"simulation"}`))
	assert.Empty(t, resp.Sources)
	assert.Less(t, resp.Confidence, 0.3)

	unknown := decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a node?","module_context":"perception"}`))
	assert.Equal(t, synth.RefusalText, unknown.Answer)
}

func TestChatIsDeterministic(t *testing.T) {
	s := newStack(t, true)
	first := decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a ROS 2 node?"}`))
	_, err := s.holder.Rebuild(context.Background(), courseChunks)
	require.NoError(t, err)
	second := decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a ROS 2 node?"}`))
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestChatBeforeFirstBuildIsUnavailable(t *testing.T) {
	s := newStack(t, false)
	rec := post(t, s.router, "/chat", `{"question":"What is a node?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "service_unavailable", body.Error)
}

func TestChatRejectsBadRequests(t *testing.T) {
	s := newStack(t, true)
	tests := []struct {
		name string
		body string
	}{
		{"empty question", `{"question":""}`},
		{"blank question", `{"question":"   "}`},
		{"missing question", `{"module_context":"ros2"}`},
		{"not json", `question=hi`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s.router, "/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "bad_request", body.Error)
		})
	}
}

func TestSearch(t *testing.T) {
	s := newStack(t, true)
	rec := post(t, s.router, "/search", `{"query":"gazebo physics","limit":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []chat.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].ID)
	assert.Equal(t, "simulation", results[0].Module)
	assert.Greater(t, results[0].Relevance, 0.0)

	assert.Equal(t, http.StatusBadRequest, post(t, s.router, "/search", `{"query":"x","limit":500}`).Code)
}

func TestContent(t *testing.T) {
	s := newStack(t, true)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content/B", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got chat.ContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Gazebo simulates physics", got.Content)
	assert.Equal(t, "simulation/gazebo.md", got.DocPath)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

type fakeChat struct{ err error }

func (f fakeChat) Ask(ctx context.Context, req chat.Request) (chat.Response, error) {
	return chat.Response{}, f.err
}

func (f fakeChat) Search(ctx context.Context, req chat.SearchRequest) ([]chat.SearchResult, error) {
	return nil, f.err
}

func (f fakeChat) Content(ctx context.Context, id string) (chat.ContentResponse, error) {
	return chat.ContentResponse{}, f.err
}

type readyStatus struct{ st index.Status }

func (r readyStatus) Status() index.Status { return r.st }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		errorCode string
		retryable bool
	}{
		{"validation", domain.NewValidationError("question must not be empty"), http.StatusBadRequest, "bad_request", false},
		{"index unavailable", domain.NewIndexUnavailableError("no index", nil), http.StatusServiceUnavailable, "service_unavailable", false},
		{"embedding", domain.NewEmbeddingError("embed query", context.DeadlineExceeded), http.StatusBadGateway, "upstream_unavailable", true},
		{"synthesis", domain.NewSynthesisError("generate", errors.New("eof")), http.StatusBadGateway, "upstream_unavailable", true},
		{"not found", domain.NewNotFoundError("chunk x not found"), http.StatusNotFound, "not_found", false},
		{"internal", domain.WrapInternal("boom", nil), http.StatusInternalServerError, "internal_error", false},
		{"foreign", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(fakeChat{err: tt.err}, readyStatus{}, "test", nil), nil, RouterOptions{})
			rec := post(t, router, "/chat", `{"question":"q"}`)
			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.errorCode, body.Error)
			assert.Equal(t, tt.retryable, body.Details["retryable"] == true)
			assert.NotContains(t, body.Message, "disk on fire")
		})
	}
}

func TestCanceledRequestWritesNothing(t *testing.T) {
	router := NewRouter(NewHandler(fakeChat{err: context.Canceled}, readyStatus{}, "test", nil), nil, RouterOptions{})
	rec := post(t, router, "/chat", `{"question":"q"}`)
	assert.Empty(t, rec.Body.String())
}

func TestHealthAndReadiness(t *testing.T) {
	s := newStack(t, false)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err := s.holder.Rebuild(context.Background(), courseChunks)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, uint64(1), ready.Index.Generation)
	assert.Equal(t, 2, ready.Index.Chunks)

	degraded := NewRouter(NewHandler(fakeChat{}, readyStatus{index.Status{Ready: true, Degraded: true}}, "test", nil), nil, RouterOptions{})
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestRootMetricsAndNotFound(t *testing.T) {
	s := newStack(t, true)
	decodeChat(t, post(t, s.router, "/chat", `{"question":"What is a ROS 2 node?"}`))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST /chat")

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `coursebot_http_requests_total{code="200",route="/chat"} 1`)
	assert.Contains(t, rec.Body.String(), `coursebot_queries_total{outcome="answered"} 1`)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newStack(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://course.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "https://course.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(ln.Addr().String(), newStack(t, true).router, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
