// Package ingest runs the offline path: load the course sources, chunk them, persist the chunks
// and rebuild the index from the store.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"coursebot/internal/domain"
	"coursebot/internal/index"
	"coursebot/internal/store"
)

// Loader reads every course source document. *corpus.Loader implements it.
type Loader interface {
	LoadAll(ctx context.Context) ([]domain.Document, error)
}

// Indexer publishes a new index generation. *index.Holder implements it.
type Indexer interface {
	Rebuild(ctx context.Context, chunks []domain.Chunk) (*index.Snapshot, error)
}

// Report summarises one run.
type Report struct {
	Documents  int
	Chunks     int
	Removed    int
	Generation uint64
	Duration   time.Duration
}

// Pipeline is exclusive: concurrent calls queue behind the one in progress.
type Pipeline struct {
	loader  Loader
	chunker domain.Chunker
	store   store.ChunkStore
	indexer Indexer
	logger  *zap.Logger

	mu sync.Mutex
}

func NewPipeline(loader Loader, chunker domain.Chunker, st store.ChunkStore, indexer Indexer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{loader: loader, chunker: chunker, store: st, indexer: indexer, logger: logger}
}

// Run rebuilds everything from the source documents. Every document is loaded and chunked before
// the store is touched, so an ingest error leaves both the store and the published index as they were.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	docs, err := p.loader.LoadAll(ctx)
	if err != nil {
		p.logger.Error("loading course sources failed, rebuild halted", zap.Error(err))
		return Report{}, err
	}

	perDoc := make(map[string][]domain.Chunk, len(docs))
	paths := make([]string, 0, len(docs))
	total := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		chunks, err := p.chunker.Chunk(d)
		if err != nil {
			p.logger.Error("chunking failed, rebuild halted", zap.String("path", d.Path), zap.Error(err))
			if domain.IsIngest(err) {
				return Report{}, err
			}
			return Report{}, domain.NewIngestError(d.Path, "chunk document", err)
		}
		perDoc[d.Path] = chunks
		paths = append(paths, d.Path)
		total += len(chunks)
	}

	for _, path := range paths {
		if err := p.store.Replace(ctx, path, perDoc[path]); err != nil {
			return Report{}, domain.WrapInternal("store chunks of "+path, err)
		}
	}
	removed, err := p.store.Prune(ctx, paths)
	if err != nil {
		return Report{}, domain.WrapInternal("prune removed documents", err)
	}
	p.logger.Info("course sources stored",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", total),
		zap.Int("removed_documents", removed))

	report, err := p.reindex(ctx)
	report.Documents = len(docs)
	report.Removed = removed
	report.Duration = time.Since(started)
	return report, err
}

// Reindex rebuilds the index from what the store already holds.
func (p *Pipeline) Reindex(ctx context.Context) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	started := time.Now()
	report, err := p.reindex(ctx)
	report.Duration = time.Since(started)
	return report, err
}

func (p *Pipeline) reindex(ctx context.Context) (Report, error) {
	chunks, err := p.store.All(ctx)
	if err != nil {
		return Report{}, domain.WrapInternal("read chunk store", err)
	}
	report := Report{Chunks: len(chunks)}
	if p.indexer == nil {
		return report, nil
	}
	snap, err := p.indexer.Rebuild(ctx, chunks)
	if err != nil {
		return report, err
	}
	report.Generation = snap.Generation
	return report, nil
}
