// Package memory is an exact, in-process vector index. Each generation is an immutable flat array.
package memory

import (
	"context"
	"errors"
	"math"

	"coursebot/internal/domain"
	"coursebot/internal/index"
)

// Factory builds flat in-memory indexes.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Name() string { return "memory" }

func (f *Factory) Build(ctx context.Context, generation uint64, dimension int, chunks []domain.Chunk, vectors [][]float64) (index.Backend, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	ix := &Index{
		dimension: dimension,
		chunks:    make([]domain.Chunk, len(chunks)),
		vectors:   make([][]float64, len(vectors)),
	}
	copy(ix.chunks, chunks)
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, errors.New("vector dimension mismatch")
		}
		ix.vectors[i] = normalized(v)
	}
	return ix, nil
}

// Index is a brute-force cosine similarity index. Nothing mutates it after Build, so searches need no lock.
type Index struct {
	dimension int
	vectors   [][]float64
	chunks    []domain.Chunk
}

func (ix *Index) Len() int { return len(ix.chunks) }

// Search scores only chunks inside filter; out-of-scope chunks are never ranked.
func (ix *Index) Search(ctx context.Context, vector []float64, filter domain.Filter, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) != ix.dimension {
		return nil, errors.New("query vector dimension mismatch")
	}
	q := normalized(vector)
	results := make([]domain.ScoredChunk, 0, min(limit, len(ix.chunks)))
	for i := range ix.chunks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !filter.Matches(ix.chunks[i]) {
			continue
		}
		results = append(results, domain.ScoredChunk{Chunk: ix.chunks[i], Score: dot(ix.vectors[i], q)})
	}
	domain.SortMatches(results)
	return index.CutWithTies(results, limit), nil
}

func (ix *Index) Close(ctx context.Context) error { return nil }

func normalized(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	out := make([]float64, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
