package index

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"coursebot/internal/domain"
	"coursebot/internal/metrics"
)

// Status describes the published index for readiness probes and logs.
type Status struct {
	Ready      bool      `json:"ready"`
	Generation uint64    `json:"generation"`
	Chunks     int       `json:"chunks"`
	Dimension  int       `json:"dimension"`
	Embedder   string    `json:"embedder,omitempty"`
	Degraded   bool      `json:"degraded"`
	LastError  string    `json:"last_error,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
}

// Holder publishes snapshots. Readers call Current and keep using the snapshot they got;
// Rebuild builds the next generation off to the side and swaps it in only when complete.
type Holder struct {
	builder *Builder
	logger  *zap.Logger
	metrics *metrics.Metrics

	current  atomic.Pointer[Snapshot]
	degraded atomic.Bool
	lastErr  atomic.Pointer[string]

	mu         sync.Mutex // serialises rebuilds
	generation uint64
	// retiring is the snapshot replaced by the last swap. It is closed one swap later
	// so queries that loaded it just before a swap can finish.
	retiring *Snapshot
}

func NewHolder(builder *Builder, logger *zap.Logger, m *metrics.Metrics) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Holder{builder: builder, logger: logger, metrics: m}
}

// Current returns the published snapshot, or an index_unavailable error before the first successful build.
func (h *Holder) Current() (*Snapshot, error) {
	snap := h.current.Load()
	if snap == nil {
		return nil, domain.NewIndexUnavailableError("index has not been built yet", nil)
	}
	return snap, nil
}

// Degraded reports whether the last rebuild failed, meaning the published snapshot is stale.
func (h *Holder) Degraded() bool { return h.degraded.Load() }

// Rebuild builds a new generation from chunks and publishes it. On failure the previous
// snapshot stays published and the holder is marked degraded until a rebuild succeeds.
func (h *Holder) Rebuild(ctx context.Context, chunks []domain.Chunk) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	started := time.Now()
	next := h.generation + 1
	snap, err := h.builder.Build(ctx, next, chunks)
	if err != nil {
		h.degraded.Store(true)
		msg := err.Error()
		h.lastErr.Store(&msg)
		h.metrics.ObserveRebuild(false, time.Since(started), 0, 0)
		fields := []zap.Field{zap.Uint64("generation", next), zap.Int("chunks", len(chunks)), zap.Error(err)}
		if old := h.current.Load(); old != nil {
			fields = append(fields, zap.Uint64("serving_generation", old.Generation))
		}
		h.logger.Error("index rebuild failed, keeping previous index", fields...)
		return nil, err
	}

	h.generation = next
	old := h.current.Swap(snap)
	h.degraded.Store(false)
	h.lastErr.Store(nil)
	h.retire(ctx, h.retiring)
	h.retiring = old
	h.metrics.ObserveRebuild(true, time.Since(started), snap.Generation, snap.Chunks)
	h.logger.Info("index published",
		zap.Uint64("generation", snap.Generation),
		zap.Int("chunks", snap.Chunks),
		zap.Int("dimension", snap.Dimension),
		zap.String("embedder", snap.Embedder),
		zap.Duration("duration", time.Since(started)),
	)
	return snap, nil
}

// Status reports the published generation and health.
func (h *Holder) Status() Status {
	st := Status{Degraded: h.degraded.Load()}
	if msg := h.lastErr.Load(); msg != nil {
		st.LastError = *msg
	}
	if snap := h.current.Load(); snap != nil {
		st.Ready = true
		st.Generation = snap.Generation
		st.Chunks = snap.Chunks
		st.Dimension = snap.Dimension
		st.Embedder = snap.Embedder
		st.BuiltAt = snap.BuiltAt
	}
	return st
}

// Close retires every snapshot the holder still owns.
func (h *Holder) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retire(ctx, h.retiring)
	h.retiring = nil
	if snap := h.current.Swap(nil); snap != nil && snap.Backend != nil {
		return snap.Backend.Close(ctx)
	}
	return nil
}

func (h *Holder) retire(ctx context.Context, snap *Snapshot) {
	if snap == nil || snap.Backend == nil {
		return
	}
	if err := snap.Backend.Close(ctx); err != nil {
		h.logger.Warn("failed to retire index generation", zap.Uint64("generation", snap.Generation), zap.Error(err))
	}
}
