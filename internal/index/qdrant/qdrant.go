// Package qdrant stores each index generation in its own Qdrant collection over the REST API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"coursebot/internal/domain"
	"coursebot/internal/index"
)

const upsertBatch = 256

// pointNamespace derives deterministic point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c2a36-6c1e-4d55-9a8e-3c4f7f0b2d11")

type Config struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	Timeout          time.Duration
}

// Factory creates one collection per build, named <prefix>_g<generation>_<build id>. Generation
// numbers restart with every process, so the build id keeps processes sharing a prefix from
// touching each other's collections. It assumes cosine distance.
type Factory struct {
	client *resty.Client
	prefix string
}

func NewFactory(cfg Config) *Factory {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "course_content"
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	return &Factory{client: client, prefix: prefix}
}

func (f *Factory) Name() string { return "qdrant" }

func (f *Factory) collectionName(generation uint64) string {
	return f.prefix + "_g" + strconv.FormatUint(generation, 10) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (f *Factory) Build(ctx context.Context, generation uint64, dimension int, chunks []domain.Chunk, vectors [][]float64) (index.Backend, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	c := &Collection{client: f.client, name: f.collectionName(generation), count: len(chunks)}
	if len(chunks) == 0 {
		return c, nil
	}
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	// create fails on an existing name; only a collection this build created is ever dropped
	if err := c.create(ctx, dimension); err != nil {
		return nil, err
	}
	if err := c.upsert(ctx, chunks, vectors); err != nil {
		_ = c.drop(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

// Collection is the backend for one generation.
type Collection struct {
	client *resty.Client
	name   string
	count  int
}

func (c *Collection) Len() int { return c.count }

type searchHit struct {
	Score   float64 `json:"score"`
	Payload payload `json:"payload"`
}

type payload struct {
	ChunkID     string `json:"chunk_id"`
	DocPath     string `json:"doc_path"`
	Title       string `json:"title"`
	Module      string `json:"module"`
	Chapter     string `json:"chapter"`
	ModuleNorm  string `json:"module_norm"`
	ChapterNorm string `json:"chapter_norm"`
	Position    int    `json:"position"`
	Text        string `json:"text"`
}

type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// Search applies filter as a Qdrant payload filter, so out-of-scope points are excluded server-side.
// Qdrant breaks score ties arbitrarily, so the fetch widens until the page ends past the last tie.
func (c *Collection) Search(ctx context.Context, vector []float64, filter domain.Filter, limit int) ([]domain.ScoredChunk, error) {
	if c.count == 0 || limit <= 0 {
		return nil, nil
	}
	// one more than limit shows whether a tie runs past it
	fetch := min(limit+1, c.count)
	for {
		hits, err := c.search(ctx, vector, filter, fetch)
		if err != nil {
			return nil, err
		}
		if len(hits) < fetch || fetch >= c.count || len(hits) <= limit ||
			hits[len(hits)-1].Score < hits[limit-1].Score-index.TieTolerance {
			results := make([]domain.ScoredChunk, 0, len(hits))
			for _, hit := range hits {
				results = append(results, hit.scored())
			}
			domain.SortMatches(results)
			return index.CutWithTies(results, limit), nil
		}
		fetch = min(fetch*2, c.count)
	}
}

func (c *Collection) search(ctx context.Context, vector []float64, filter domain.Filter, limit int) ([]searchHit, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := payloadFilter(filter); f != nil {
		body["filter"] = f
	}
	var out struct {
		Result []searchHit `json:"result"`
	}
	resp, err := c.client.R().SetContext(ctx).SetBody(body).SetResult(&out).SetError(&apiError{}).
		Post("/collections/" + c.name + "/points/search")
	if err := check(resp, err, "search"); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (h searchHit) scored() domain.ScoredChunk {
	p := h.Payload
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:       p.ChunkID,
			DocPath:  p.DocPath,
			Title:    p.Title,
			Module:   p.Module,
			Chapter:  p.Chapter,
			Position: p.Position,
			Text:     p.Text,
		},
		Score: h.Score,
	}
}

// Close drops the generation's collection.
func (c *Collection) Close(ctx context.Context) error {
	if c.count == 0 {
		return nil
	}
	return c.drop(ctx)
}

func payloadFilter(f domain.Filter) map[string]any {
	var must []map[string]any
	if f.Module != "" {
		must = append(must, map[string]any{"key": "module_norm", "match": map[string]any{"value": domain.NormalizeTag(f.Module)}})
	}
	if f.Chapter != "" {
		must = append(must, map[string]any{"key": "chapter_norm", "match": map[string]any{"value": domain.NormalizeTag(f.Chapter)}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (c *Collection) create(ctx context.Context, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	resp, err := c.client.R().SetContext(ctx).SetBody(body).SetError(&apiError{}).
		Put("/collections/" + c.name)
	if err := check(resp, err, "create collection"); err != nil {
		return err
	}
	for _, field := range []string{"module_norm", "chapter_norm"} {
		resp, err := c.client.R().SetContext(ctx).SetQueryParam("wait", "true").
			SetBody(map[string]any{"field_name": field, "field_schema": "keyword"}).SetError(&apiError{}).
			Put("/collections/" + c.name + "/index")
		if err := check(resp, err, "create payload index "+field); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			ch := chunks[i]
			points = append(points, map[string]any{
				"id":     PointID(ch.ID),
				"vector": vectors[i],
				"payload": payload{
					ChunkID:     ch.ID,
					DocPath:     ch.DocPath,
					Title:       ch.Title,
					Module:      ch.Module,
					Chapter:     ch.Chapter,
					ModuleNorm:  domain.NormalizeTag(ch.Module),
					ChapterNorm: domain.NormalizeTag(ch.Chapter),
					Position:    ch.Position,
					Text:        ch.Text,
				},
			})
		}
		resp, err := c.client.R().SetContext(ctx).SetQueryParam("wait", "true").
			SetBody(map[string]any{"points": points}).SetError(&apiError{}).
			Put("/collections/" + c.name + "/points")
		if err := check(resp, err, "upsert points"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) drop(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).SetError(&apiError{}).Delete("/collections/" + c.name)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return check(resp, err, "drop collection")
}

// PointID maps a chunk ID onto the UUID space Qdrant accepts for point IDs.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Status.Error != "" {
		return fmt.Errorf("qdrant %s failed: %s: %s", op, resp.Status(), e.Status.Error)
	}
	return fmt.Errorf("qdrant %s failed: %s", op, resp.Status())
}
