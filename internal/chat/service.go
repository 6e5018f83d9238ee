// Package chat implements the chat session boundary: request validation, query construction and
// the retrieve-then-synthesize pipeline. Sessions are stateless across calls.
package chat

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coursebot/internal/domain"
	"coursebot/internal/logging"
	"coursebot/internal/metrics"
)

const (
	defaultSearchLimit = 10
	searchContentChars = 300
)

// Retriever ranks chunks for a query. *retriever.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.Query) (domain.RetrievalResult, error)
}

// Synthesizer answers a query from its retrieval result. *synth.Synthesizer implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, q domain.Query, r domain.RetrievalResult) (domain.Answer, error)
}

// ChunkReader looks chunks up by ID. store.ChunkStore implements it.
type ChunkReader interface {
	Get(ctx context.Context, ids []string) ([]domain.Chunk, error)
}

// Service runs one linear pipeline per question.
type Service struct {
	retriever   Retriever
	synthesizer Synthesizer
	chunks      ChunkReader
	validate    *validator.Validate
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(r Retriever, s Synthesizer, chunks ChunkReader, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever:   r,
		synthesizer: s,
		chunks:      chunks,
		validate:    newValidator(),
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// Ask answers one question. Retrieval completes before synthesis starts.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	req.Question = strings.TrimSpace(req.Question)
	req.SelectedText = strings.TrimSpace(req.SelectedText)
	if err := s.check(req); err != nil {
		return Response{}, err
	}
	q := domain.Query{
		ID:           uuid.NewString(),
		Question:     req.Question,
		SelectedText: req.SelectedText,
		Filter:       domain.Filter{Module: strings.TrimSpace(req.ModuleContext), Chapter: strings.TrimSpace(req.ChapterContext)},
		Timestamp:    s.now().UTC(),
	}
	log := logging.FromContext(ctx, s.logger).With(zap.String("query_id", q.ID))
	ctx = logging.WithContext(ctx, log)

	started := time.Now()
	result, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		s.metrics.ObserveQuery(metrics.OutcomeError, 0, time.Since(started))
		return Response{}, err
	}
	answer, err := s.synthesizer.Synthesize(ctx, q, result)
	if err != nil {
		s.metrics.ObserveQuery(metrics.OutcomeError, len(result.Matches), time.Since(started))
		return Response{}, err
	}
	elapsed := time.Since(started)

	outcome := metrics.OutcomeAnswered
	if !answer.Grounded {
		outcome = metrics.OutcomeRefused
	}
	s.metrics.ObserveQuery(outcome, len(result.Matches), elapsed)
	log.Info("query answered",
		zap.String("module", q.Filter.Module),
		zap.String("chapter", q.Filter.Chapter),
		zap.Int("results", len(result.Matches)),
		zap.Uint64("generation", result.Generation),
		zap.Float64("confidence", answer.Confidence),
		zap.Bool("grounded", answer.Grounded),
		zap.Duration("duration", elapsed))

	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	return Response{
		Answer:         answer.Text,
		Sources:        sources,
		Confidence:     answer.Confidence,
		GroundedInBook: answer.Grounded,
		Timestamp:      q.Timestamp.Format(time.RFC3339),
		Degraded:       answer.Degraded,
		QueryID:        q.ID,
	}, nil
}

// Search returns the ranked chunks for a query without synthesizing an answer.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := s.check(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	q := domain.Query{
		ID:        uuid.NewString(),
		Question:  req.Query,
		Filter:    domain.Filter{Module: strings.TrimSpace(req.ModuleFilter), Chapter: strings.TrimSpace(req.ChapterFilter)},
		Limit:     limit,
		Timestamp: s.now().UTC(),
	}
	ctx = logging.WithContext(ctx, logging.FromContext(ctx, s.logger).With(zap.String("query_id", q.ID)))
	result, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(result.Matches))
	for _, m := range result.Matches {
		out = append(out, SearchResult{
			ID:        m.Chunk.ID,
			Title:     m.Chunk.Title,
			Content:   truncate(m.Chunk.Text, searchContentChars),
			Module:    m.Chunk.Module,
			Chapter:   m.Chunk.Chapter,
			Relevance: m.Score,
		})
	}
	return out, nil
}

// Content returns the whole stored text of a chunk, typically one a search result or an answer cited.
func (s *Service) Content(ctx context.Context, id string) (ContentResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ContentResponse{}, domain.NewValidationError("id must not be empty").WithDetail("id", "required")
	}
	if s.chunks == nil {
		return ContentResponse{}, domain.NewNotFoundError("chunk " + id + " not found")
	}
	found, err := s.chunks.Get(ctx, []string{id})
	if err != nil {
		if domain.IsCanceled(err) {
			return ContentResponse{}, err
		}
		return ContentResponse{}, domain.WrapInternal("read chunk", err)
	}
	if len(found) == 0 {
		return ContentResponse{}, domain.NewNotFoundError("chunk " + id + " not found").WithDetail("id", id)
	}
	c := found[0]
	return ContentResponse{
		ID:       c.ID,
		DocPath:  c.DocPath,
		Title:    c.Title,
		Module:   c.Module,
		Chapter:  c.Chapter,
		Position: c.Position,
		Content:  c.Text,
	}, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.WrapInternal("validate request", err)
	}
	fe := verrs[0]
	verr := domain.NewValidationError(describe(fe))
	for _, e := range verrs {
		verr.WithDetail(e.Field(), e.Tag())
	}
	return verr
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " must not be empty"
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	}
	return name + " is invalid"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
