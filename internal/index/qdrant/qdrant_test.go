package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/domain"
)

// fakeQdrant implements the handful of REST endpoints the backend uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string][]fakePoint
	apiKeys     []string
	limits      []int
	failUpsert  bool
}

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{collections: make(map[string][]fakePoint)}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
		name := r.PathValue("name")
		if _, ok := f.collections[name]; ok {
			writeJSON(w, http.StatusConflict, map[string]any{"status": map[string]any{"error": "already exists"}})
			return
		}
		f.collections[name] = nil
		writeJSON(w, http.StatusOK, map[string]any{"result": true})
	})
	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		if _, ok := f.collections[name]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": map[string]any{"error": "Not found"}})
			return
		}
		delete(f.collections, name)
		writeJSON(w, http.StatusOK, map[string]any{"result": true})
	})
	mux.HandleFunc("PUT /collections/{name}/index", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}})
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failUpsert {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"status": map[string]any{"error": "disk full"}})
			return
		}
		var body struct {
			Points []fakePoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		name := r.PathValue("name")
		f.collections[name] = append(f.collections[name], body.Points...)
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		points, ok := f.collections[r.PathValue("name")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": map[string]any{"error": "Not found"}})
			return
		}
		var req struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
			Filter *struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.limits = append(f.limits, req.Limit)
		type hit struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
	next:
		for _, p := range points {
			if req.Filter != nil {
				for _, m := range req.Filter.Must {
					if p.Payload[m.Key] != m.Match.Value {
						continue next
					}
				}
			}
			s := 0.0
			for i := range p.Vector {
				s += p.Vector[i] * req.Vector[i]
			}
			hits = append(hits, hit{Score: s, Payload: p.Payload})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > req.Limit {
			hits = hits[:req.Limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": hits})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.collections))
	for n := range f.collections {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var (
	testChunks = []domain.Chunk{
		{ID: "a", DocPath: "ros2/nodes.md", Title: "Nodes", Module: "ros2", Chapter: "nodes", Position: 0, Text: "ROS 2 uses nodes and topics"},
		{ID: "b", DocPath: "simulation/gazebo.md", Title: "Gazebo", Module: "simulation", Chapter: "gazebo", Position: 0, Text: "Gazebo simulates physics"},
	}
	testVectors = [][]float64{{1, 0}, {0, 1}}
)

func TestBuildSearchAndClose(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	f := NewFactory(Config{URL: srv.URL, APIKey: "secret", CollectionPrefix: "course"})
	ctx := context.Background()

	backend, err := f.Build(ctx, 3, 2, testChunks, testVectors)
	require.NoError(t, err)
	names := fake.names()
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "course_g3_"), names[0])
	assert.Equal(t, 2, backend.Len())
	assert.Contains(t, fake.apiKeys, "secret")

	res, err := backend.Search(ctx, []float64{1, 0}, domain.Filter{}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, testChunks[0], res[0].Chunk)
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)

	scoped, err := backend.Search(ctx, []float64{1, 0}, domain.Filter{Module: "Simulation"}, 5)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "b", scoped[0].Chunk.ID)

	require.NoError(t, backend.Close(ctx))
	assert.Empty(t, fake.names())
}

func TestBuildFailureDropsPartialCollection(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	fake.failUpsert = true
	f := NewFactory(Config{URL: srv.URL})

	_, err := f.Build(context.Background(), 1, 2, testChunks, testVectors)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, fake.names())
}

func TestBuildsSharingAPrefixNeverTouchEachOther(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	ctx := context.Background()
	serving := NewFactory(Config{URL: srv.URL, CollectionPrefix: "course"})
	other := NewFactory(Config{URL: srv.URL, CollectionPrefix: "course"})

	live, err := serving.Build(ctx, 1, 2, testChunks, testVectors)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.failUpsert = true
	fake.mu.Unlock()
	_, err = other.Build(ctx, 1, 2, testChunks, testVectors)
	require.Error(t, err)
	fake.mu.Lock()
	fake.failUpsert = false
	fake.mu.Unlock()

	require.Len(t, fake.names(), 1, "a failed build drops only the collection it created")
	res, err := live.Search(ctx, []float64{1, 0}, domain.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].Chunk.ID)

	second, err := other.Build(ctx, 1, 2, testChunks, testVectors)
	require.NoError(t, err)
	assert.Len(t, fake.names(), 2)
	require.NoError(t, second.Close(ctx))

	res, err = live.Search(ctx, []float64{0, 1}, domain.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].Chunk.ID)
	require.NoError(t, live.Close(ctx))
	assert.Empty(t, fake.names())
}

func TestSearchWidensPastTiesAtTheLimit(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	ctx := context.Background()
	chunks := []domain.Chunk{
		{ID: "late", DocPath: "ros2/nodes.md", Position: 1},
		{ID: "early", DocPath: "ros2/nodes.md", Position: 0},
		{ID: "weak", DocPath: "ros2/nodes.md", Position: 2},
	}
	backend, err := NewFactory(Config{URL: srv.URL}).Build(ctx, 1, 2, chunks, [][]float64{{1, 0}, {1, 0}, {0, 1}})
	require.NoError(t, err)

	res, err := backend.Search(ctx, []float64{1, 0}, domain.Filter{}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "early", res[0].Chunk.ID, "the earlier position wins a tie the server returned later")
	assert.Len(t, res, 2)
	assert.Equal(t, []int{2, 3}, fake.limits)
}

func TestEmptyGenerationNeedsNoCollection(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	backend, err := NewFactory(Config{URL: srv.URL}).Build(context.Background(), 1, 0, nil, nil)
	require.NoError(t, err)
	res, err := backend.Search(context.Background(), nil, domain.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NoError(t, backend.Close(context.Background()))
	assert.Empty(t, fake.names())
}

func TestPointIDIsDeterministicUUID(t *testing.T) {
	assert.Equal(t, PointID("abc"), PointID("abc"))
	assert.NotEqual(t, PointID("abc"), PointID("abd"))
	assert.Len(t, PointID("abc"), 36)
}
