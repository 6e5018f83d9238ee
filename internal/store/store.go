// Package store defines the Document Store: the durable set of chunks derived from the course sources.
package store

import (
	"context"
	"sort"

	"coursebot/internal/domain"
)

// ChunkStore persists chunks grouped by source document. A document's chunks are only ever
// replaced wholesale.
type ChunkStore interface {
	// Replace swaps the chunk set of one document in a single step. An empty set removes the document.
	Replace(ctx context.Context, docPath string, chunks []domain.Chunk) error
	// Prune removes every document not listed in keep and returns how many were removed.
	Prune(ctx context.Context, keep []string) (int, error)
	// All returns every chunk ordered by document path then position.
	All(ctx context.Context) ([]domain.Chunk, error)
	// Get returns the chunks with the given IDs, in the order requested. Unknown IDs are skipped.
	Get(ctx context.Context, ids []string) ([]domain.Chunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// SortChunks orders chunks by document path then position.
func SortChunks(chunks []domain.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].DocPath != chunks[j].DocPath {
			return chunks[i].DocPath < chunks[j].DocPath
		}
		return chunks[i].Position < chunks[j].Position
	})
}

// CheckDocument verifies that every chunk belongs to docPath.
func CheckDocument(docPath string, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if c.DocPath != docPath {
			return domain.WrapInternal("chunk "+c.ID+" belongs to "+c.DocPath+", not "+docPath, nil)
		}
		if c.ID == "" {
			return domain.WrapInternal("chunk without id in "+docPath, nil)
		}
	}
	return nil
}
