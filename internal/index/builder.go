package index

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"coursebot/internal/domain"
)

// BuilderOptions bounds the embedding fan-out of a build.
type BuilderOptions struct {
	BatchSize int
	Workers   int
	// Dimension, when non-zero, must match every produced vector.
	Dimension int
	// BatchTimeout bounds each embedding call; zero means no per-batch bound.
	BatchTimeout time.Duration
}

// Builder turns a chunk set into a Snapshot without touching any published state.
type Builder struct {
	embedder domain.Embedder
	factory  Factory
	opts     BuilderOptions
}

func NewBuilder(embedder domain.Embedder, factory Factory, opts BuilderOptions) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Builder{embedder: embedder, factory: factory, opts: opts}
}

// Build embeds every chunk and builds a backend for the given generation.
func (b *Builder) Build(ctx context.Context, generation uint64, chunks []domain.Chunk) (*Snapshot, error) {
	snap := &Snapshot{
		Generation: generation,
		Embedder:   b.embedder.Name(),
		Chunks:     len(chunks),
		BuiltAt:    time.Now().UTC(),
	}
	var vectors [][]float64
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		model, err := b.embedder.Prepare(ctx, texts)
		if err != nil {
			return nil, domain.NewEmbeddingError("prepare embedding model", err)
		}
		vectors, err = b.embedAll(ctx, model, texts)
		if err != nil {
			return nil, err
		}
		snap.Model = model
		snap.Dimension = len(vectors[0])
	}
	backend, err := b.factory.Build(ctx, generation, snap.Dimension, chunks, vectors)
	if err != nil {
		return nil, domain.NewIndexUnavailableError(fmt.Sprintf("build %s index generation %d", b.factory.Name(), generation), err)
	}
	snap.Backend = backend
	return snap, nil
}

func (b *Builder) embedAll(ctx context.Context, model domain.EmbeddingModel, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for start := 0; start < len(texts); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(texts))
		g.Go(func() error {
			callCtx := gctx
			if b.opts.BatchTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, b.opts.BatchTimeout)
				defer cancel()
			}
			vecs, err := model.Embed(callCtx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.NewEmbeddingError("embed chunks", err)
	}
	dim := len(out[0])
	if dim == 0 {
		return nil, domain.NewEmbeddingError("embedder produced zero-length vectors", nil)
	}
	if b.opts.Dimension > 0 && dim != b.opts.Dimension {
		return nil, domain.NewEmbeddingError(fmt.Sprintf("embedding dimension %d, configured %d", dim, b.opts.Dimension), nil)
	}
	for i, v := range out {
		if len(v) != dim {
			return nil, domain.NewEmbeddingError(fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), dim), nil)
		}
	}
	return out, nil
}
