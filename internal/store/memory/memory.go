package memory

import (
	"context"
	"sync"

	"coursebot/internal/domain"
	"coursebot/internal/store"
)

// Store keeps chunks in process memory. Data is lost on restart and rebuilt from the sources.
type Store struct {
	mu   sync.RWMutex
	docs map[string][]domain.Chunk
	byID map[string]domain.Chunk
}

func NewStore() *Store {
	return &Store{docs: make(map[string][]domain.Chunk), byID: make(map[string]domain.Chunk)}
}

func (s *Store) Replace(ctx context.Context, docPath string, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.CheckDocument(docPath, chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(docPath)
	if len(chunks) == 0 {
		return nil
	}
	cp := make([]domain.Chunk, len(chunks))
	copy(cp, chunks)
	s.docs[docPath] = cp
	for _, c := range cp {
		s.byID[c.ID] = c
	}
	return nil
}

func (s *Store) Prune(ctx context.Context, keep []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for p := range s.docs {
		if _, ok := keepSet[p]; !ok {
			s.dropLocked(p)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) All(ctx context.Context) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Chunk, 0, len(s.byID))
	for _, cs := range s.docs {
		out = append(out, cs...)
	}
	s.mu.RUnlock()
	store.SortChunks(out)
	return out, nil
}

func (s *Store) Get(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) dropLocked(docPath string) {
	for _, c := range s.docs[docPath] {
		delete(s.byID, c.ID)
	}
	delete(s.docs, docPath)
}
