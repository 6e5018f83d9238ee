// Package retriever ranks chunks of the published index against a query.
package retriever

import (
	"context"
	"math"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"coursebot/internal/domain"
	"coursebot/internal/index"
	"coursebot/internal/logging"
	"coursebot/internal/metrics"
	"coursebot/internal/resilience"
)

// SnapshotSource yields the published index. *index.Holder implements it.
type SnapshotSource interface {
	Current() (*index.Snapshot, error)
	Degraded() bool
}

// Options are the ranking constants and the embedding call policy.
type Options struct {
	TopK          int
	MinSimilarity float64
	CacheSize     int
	Embedding     resilience.Policy
}

// Retriever is safe for concurrent use; its only shared state is the query embedding cache.
type Retriever struct {
	source  SnapshotSource
	opts    Options
	cache   *lru.Cache[string, []float64]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(source SnapshotSource, opts Options, logger *zap.Logger, m *metrics.Metrics) (*Retriever, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{source: source, opts: opts, logger: logger, metrics: m}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []float64](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// TopK is the configured result size.
func (r *Retriever) TopK() int { return r.opts.TopK }

// Retrieve returns up to K chunks inside the query's filter whose similarity reaches the cutoff,
// best first. No match is an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q domain.Query) (domain.RetrievalResult, error) {
	snap, err := r.source.Current()
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	k := r.opts.TopK
	if q.Limit > 0 {
		k = q.Limit
	}
	result := domain.RetrievalResult{K: k, Generation: snap.Generation, Degraded: r.source.Degraded()}
	if result.Degraded {
		logging.FromContext(ctx, r.logger).Warn("serving query from a stale index", zap.Uint64("generation", snap.Generation))
	}
	if snap.Empty() {
		return result, nil
	}

	vec, err := r.embedQuery(ctx, snap, q.RetrievalText())
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	if isZero(vec) {
		// no query term is known to the index, so nothing can reach a positive cutoff
		return result, nil
	}
	candidates, err := snap.Search(ctx, vec, q.Filter, k)
	if err != nil {
		if domain.IsCanceled(err) {
			return domain.RetrievalResult{}, err
		}
		return domain.RetrievalResult{}, domain.NewIndexUnavailableError("search index", err)
	}

	matches := make([]domain.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		// filter again: remote backends are not trusted to have honoured it
		if !q.Filter.Matches(c.Chunk) {
			continue
		}
		score := quantize(clamp(c.Score, -1, 1))
		if score <= 0 || score < r.opts.MinSimilarity {
			continue
		}
		c.Score = score
		matches = append(matches, c)
	}
	domain.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	result.Matches = matches
	return result, nil
}

func (r *Retriever) embedQuery(ctx context.Context, snap *index.Snapshot, text string) ([]float64, error) {
	key := strconv.FormatUint(snap.Generation, 10) + "\x00" + text
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			r.metrics.CacheLookup(true)
			return v, nil
		}
		r.metrics.CacheLookup(false)
	}
	started := time.Now()
	var vec []float64
	err := r.opts.Embedding.Do(ctx, func(ctx context.Context) error {
		vecs, err := snap.Model.Embed(ctx, []string{text})
		if err != nil {
			return err
		}
		if len(vecs) != 1 || len(vecs[0]) != snap.Dimension {
			return resilience.Permanent(domain.NewEmbeddingError("query embedding does not match index dimension", nil))
		}
		vec = vecs[0]
		return nil
	})
	if err != nil {
		if domain.IsCanceled(err) {
			return nil, err
		}
		logging.FromContext(ctx, r.logger).Error("query embedding failed",
			zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		if domain.IsEmbedding(err) {
			return nil, err
		}
		return nil, domain.NewEmbeddingError("embed query", err)
	}
	if r.cache != nil {
		r.cache.Add(key, vec)
	}
	return vec, nil
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// quantize rounds away floating-point noise so equal similarities tie exactly.
func quantize(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}
