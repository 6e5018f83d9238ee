// Package app assembles the coursebot components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"coursebot/internal/chat"
	"coursebot/internal/chunker"
	"coursebot/internal/config"
	"coursebot/internal/corpus"
	"coursebot/internal/domain"
	embopenai "coursebot/internal/embedding/openai"
	"coursebot/internal/embedding/tfidf"
	"coursebot/internal/index"
	indexmemory "coursebot/internal/index/memory"
	"coursebot/internal/index/qdrant"
	"coursebot/internal/ingest"
	"coursebot/internal/metrics"
	"coursebot/internal/resilience"
	"coursebot/internal/retriever"
	"coursebot/internal/server"
	"coursebot/internal/store"
	storememory "coursebot/internal/store/memory"
	"coursebot/internal/store/sqlite"
	"coursebot/internal/synth"
	synthopenai "coursebot/internal/synth/openai"
	"coursebot/internal/watch"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Store     store.ChunkStore
	Loader    *corpus.Loader
	Holder    *index.Holder
	Pipeline  *ingest.Pipeline
	Retriever *retriever.Retriever
	Synth     *synth.Synthesizer
	Chat      *chat.Service
}

// New builds every component. The index starts empty; call Bootstrap or Pipeline.Run to publish one.
func New(cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := metrics.New()

	st, err := newStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = st.Close()
		}
	}()

	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	factory, err := newIndexFactory(cfg.Index)
	if err != nil {
		return nil, err
	}
	builder := index.NewBuilder(emb, factory, index.BuilderOptions{
		BatchSize:    cfg.Index.BatchSize,
		Workers:      cfg.Index.Workers,
		Dimension:    cfg.Embedder.Dimension,
		BatchTimeout: cfg.EmbeddingTimeout(),
	})
	holder := index.NewHolder(builder, logger.Named("index"), m)

	loader := corpus.NewLoader(os.DirFS(cfg.Corpus.DocsDir), cfg.Corpus.Extensions)
	pipeline := ingest.NewPipeline(loader, ch, st, holder, logger.Named("ingest"))

	ret, err := retriever.New(holder, retriever.Options{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		CacheSize:     cfg.Retrieval.QueryCacheSize,
		Embedding:     policy(cfg, cfg.EmbeddingTimeout()),
	}, logger.Named("retriever"), m)
	if err != nil {
		return nil, err
	}

	fallback := synth.NewExtractive(cfg.Synthesis.MaxSentences)
	gen, err := newGenerator(cfg.Synthesis, fallback, logger)
	if err != nil {
		return nil, err
	}
	sy := synth.New(gen, fallback, synth.Options{
		TopWeight:           cfg.Synthesis.Confidence.TopWeight,
		AgreementWeight:     cfg.Synthesis.Confidence.AgreementWeight,
		GroundingMinOverlap: cfg.Synthesis.GroundingMinOverlap,
		Generation:          policy(cfg, cfg.GenerationTimeout()),
	}, logger.Named("synth"), m)

	ok = true
	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Store:     st,
		Loader:    loader,
		Holder:    holder,
		Pipeline:  pipeline,
		Retriever: ret,
		Synth:     sy,
		Chat:      chat.NewService(ret, sy, st, logger.Named("chat"), m),
	}, nil
}

// Bootstrap publishes the first index. An empty store is filled from the course sources;
// otherwise the index is rebuilt from what the store already holds.
func (a *App) Bootstrap(ctx context.Context) (ingest.Report, error) {
	n, err := a.Store.Count(ctx)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("count stored chunks: %w", err)
	}
	if n == 0 {
		a.Logger.Info("chunk store is empty, ingesting course sources", zap.String("docs_dir", a.Config.Corpus.DocsDir))
		return a.Pipeline.Run(ctx)
	}
	return a.Pipeline.Reindex(ctx)
}

// Router returns the HTTP handler serving the chat API.
func (a *App) Router(version string) http.Handler {
	h := server.NewHandler(a.Chat, a.Holder, version, a.Logger.Named("http"))
	return server.NewRouter(h, a.Metrics, server.RouterOptions{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		RequestTimeout: time.Duration(a.Config.Server.RequestTimeoutSecs) * time.Second,
	})
}

// Server returns the HTTP server for the configured address.
func (a *App) Server(version string) *server.Server {
	return server.New(a.Config.Server.Addr, a.Router(version),
		time.Duration(a.Config.Server.ShutdownTimeoutSecs)*time.Second, a.Logger.Named("http"))
}

// Watcher returns a watcher that re-ingests the docs dir when course sources change.
func (a *App) Watcher() *watch.Watcher {
	return watch.New(a.Config.Corpus.DocsDir, a.Loader.Accepts,
		time.Duration(a.Config.Corpus.DebounceMilli)*time.Millisecond,
		func(ctx context.Context) error {
			_, err := a.Pipeline.Run(ctx)
			return err
		}, a.Logger.Named("watch"))
}

// Close releases the index generations and the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Holder.Close(ctx), a.Store.Close())
}

func policy(cfg *config.AppConfig, timeout time.Duration) resilience.Policy {
	return resilience.Policy{Timeout: timeout, MaxRetries: cfg.Retry.MaxRetries, Backoff: cfg.Backoff()}
}

func newStore(cfg config.StoreConfig) (store.ChunkStore, error) {
	switch cfg.Type {
	case "memory":
		return storememory.NewStore(), nil
	case "sqlite", "":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store: %s", cfg.Type)
	}
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			BatchSize: cfg.OpenAI.BatchSize,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newIndexFactory(cfg config.IndexConfig) (index.Factory, error) {
	switch cfg.Type {
	case "memory", "":
		return indexmemory.NewFactory(), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		return qdrant.NewFactory(qdrant.Config{
			URL:              cfg.Qdrant.URL,
			APIKey:           cfg.Qdrant.APIKey,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			Timeout:          time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown index: %s", cfg.Type)
	}
}

func generatorConfig(cfg *config.OpenAIConfig) synthopenai.Config {
	return synthopenai.Config{
		BaseURL:      cfg.BaseURL,
		APIKeyEnv:    cfg.APIKeyEnv,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		ExcerptChars: max(cfg.ExcerptChars, 0),
	}
}

// newGenerator falls back to the extractive generator when the chat endpoint has no API key.
func newGenerator(cfg config.SynthesisConfig, fallback *synth.Extractive, logger *zap.Logger) (domain.Generator, error) {
	switch cfg.Generator {
	case "extractive", "":
		return fallback, nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai generator config missing")
		}
		gen, err := synthopenai.NewGenerator(generatorConfig(cfg.OpenAI))
		if err != nil {
			logger.Warn("chat generator unavailable, answering extractively", zap.Error(err))
			return fallback, nil
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator)
	}
}
