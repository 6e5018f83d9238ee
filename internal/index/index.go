// Package index builds searchable vector snapshots of the chunk set and publishes them with swap-on-complete.
package index

import (
	"context"
	"time"

	"coursebot/internal/domain"
)

// Backend searches the vectors of exactly one index generation. It is immutable once built.
type Backend interface {
	// Search returns the best limit chunks inside filter, best first, plus any chunk whose score
	// ties the last of them within TieTolerance.
	Search(ctx context.Context, vector []float64, filter domain.Filter, limit int) ([]domain.ScoredChunk, error)
	Len() int
	// Close retires the generation and releases whatever it holds.
	Close(ctx context.Context) error
}

// Factory creates backends. Vectors are aligned with chunks.
type Factory interface {
	Name() string
	Build(ctx context.Context, generation uint64, dimension int, chunks []domain.Chunk, vectors [][]float64) (Backend, error)
}

// Snapshot is one fully built index generation. It carries the embedding model its vectors
// came from so that query vectors are always comparable with the index they search.
type Snapshot struct {
	Generation uint64
	Model      domain.EmbeddingModel // nil for an empty corpus
	Backend    Backend
	Embedder   string
	Chunks     int
	Dimension  int
	BuiltAt    time.Time
}

// Empty reports whether the snapshot holds no chunks.
func (s *Snapshot) Empty() bool { return s.Chunks == 0 }

// Search delegates to the generation's backend.
func (s *Snapshot) Search(ctx context.Context, vector []float64, filter domain.Filter, limit int) ([]domain.ScoredChunk, error) {
	if s.Empty() || limit <= 0 {
		return nil, nil
	}
	return s.Backend.Search(ctx, vector, filter, limit)
}

// TieTolerance is the score distance under which two candidates count as tied. Retrieval rounds
// scores to this grid before its final ordering.
const TieTolerance = 1e-9

// CutWithTies truncates score-sorted matches to limit but keeps every match tied with the last
// one kept, so the caller's tie-break decides which of them survive.
func CutWithTies(matches []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	if limit <= 0 {
		return matches[:0]
	}
	if len(matches) <= limit {
		return matches
	}
	floor := matches[limit-1].Score - TieTolerance
	n := limit
	for n < len(matches) && matches[n].Score >= floor {
		n++
	}
	return matches[:n]
}
