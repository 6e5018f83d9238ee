// Package openai embeds text through an OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"coursebot/internal/domain"
)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	BatchSize int
	// Dimension, when non-zero, is requested from the endpoint and enforced on every response.
	Dimension int
}

// Client is a remote embedder. It is stateless across index generations, so Prepare returns the client itself.
type Client struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int

	mu        sync.Mutex
	dimension int
	fixed     bool
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Client{
		client:    openai.NewClientWithConfig(oc),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: cfg.BatchSize,
		dimension: cfg.Dimension,
		fixed:     cfg.Dimension > 0,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Prepare needs no corpus statistics for a remote model.
func (c *Client) Prepare(ctx context.Context, corpus []string) (domain.EmbeddingModel, error) {
	return c, nil
}

// Dimension returns the configured dimension, or the one observed on the first response.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		req := openai.EmbeddingRequestStrings{Input: texts[start:end], Model: c.model}
		if c.fixed {
			req.Dimensions = c.dimension
		}
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), end-start)
		}
		batch := make([][]float64, end-start)
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(batch) {
				return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
			}
			v := make([]float64, len(item.Embedding))
			for i, f := range item.Embedding {
				v[i] = float64(f)
			}
			if err := c.checkDimension(len(v)); err != nil {
				return nil, err
			}
			batch[item.Index] = v
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) checkDimension(n int) error {
	if n == 0 {
		return errors.New("openai embeddings: empty vector")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = n
		return nil
	}
	if n != c.dimension {
		return fmt.Errorf("openai embeddings: dimension %d, expected %d", n, c.dimension)
	}
	return nil
}
