// Package synth composes answers from retrieved chunks and scores how much to trust them.
package synth

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"coursebot/internal/domain"
	"coursebot/internal/logging"
	"coursebot/internal/metrics"
	"coursebot/internal/resilience"
)

// RefusalText is returned whenever retrieval found nothing to ground an answer in.
const RefusalText = "I couldn't find relevant content in the course materials to answer your question."

// Options hold the confidence weights, the grounding threshold and the generation call policy.
type Options struct {
	TopWeight           float64
	AgreementWeight     float64
	GroundingMinOverlap float64
	Generation          resilience.Policy
}

// Synthesizer turns a retrieval result into an answer. The generator is untrusted: its output
// is checked against the excerpt texts and replaced by an extractive answer when it strays.
type Synthesizer struct {
	generator domain.Generator
	fallback  *Extractive
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func New(generator domain.Generator, fallback *Extractive, opts Options, logger *zap.Logger, m *metrics.Metrics) *Synthesizer {
	if fallback == nil {
		fallback = NewExtractive(0)
	}
	if generator == nil {
		generator = fallback
	}
	if opts.TopWeight+opts.AgreementWeight <= 0 {
		opts.TopWeight, opts.AgreementWeight = 0.7, 0.3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{generator: generator, fallback: fallback, opts: opts, logger: logger, metrics: m}
}

// Refusal is the answer for a query nothing in the course covers.
func Refusal(degraded bool) domain.Answer {
	return domain.Answer{Text: RefusalText, Confidence: 0, Sources: []string{}, Grounded: false, Degraded: degraded}
}

// Synthesize answers q from r. An empty result short-circuits to the refusal without calling
// the generator. A generator that cannot be reached yields a retryable synthesis error.
func (s *Synthesizer) Synthesize(ctx context.Context, q domain.Query, r domain.RetrievalResult) (domain.Answer, error) {
	if r.Empty() {
		return Refusal(r.Degraded), nil
	}
	log := logging.FromContext(ctx, s.logger)

	started := time.Now()
	var text string
	err := s.opts.Generation.Do(ctx, func(ctx context.Context) error {
		out, err := s.generator.Generate(ctx, q.Question, r.Matches)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		if domain.IsCanceled(err) {
			return domain.Answer{}, err
		}
		log.Error("answer generation failed",
			zap.String("generator", s.generator.Name()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return domain.Answer{}, domain.NewSynthesisError("generate answer", err).WithDetail("retryable", true)
	}

	if overlap := GroundingOverlap(text, r.Matches); overlap < s.opts.GroundingMinOverlap || overlap == 0 {
		log.Warn("generated answer failed grounding check, using extractive answer",
			zap.String("generator", s.generator.Name()),
			zap.Float64("overlap", overlap),
			zap.Float64("min_overlap", s.opts.GroundingMinOverlap))
		s.metrics.GroundingFailed()
		text, err = s.fallback.Generate(ctx, q.Question, r.Matches)
		if err != nil {
			return domain.Answer{}, domain.NewSynthesisError("extractive fallback", err)
		}
	}

	return domain.Answer{
		Text:       text,
		Confidence: Confidence(r.Matches, r.K, s.opts.TopWeight, s.opts.AgreementWeight),
		Sources:    sources(r.Matches),
		Grounded:   true,
		Degraded:   r.Degraded,
	}, nil
}

// Confidence blends the top similarity with how closely the rest of the top-K follow it.
// Ranks below len(matches) up to k count as zero agreement.
func Confidence(matches []domain.ScoredChunk, k int, topWeight, agreementWeight float64) float64 {
	if len(matches) == 0 || topWeight+agreementWeight <= 0 {
		return 0
	}
	top := matches[0].Score
	if top <= 0 {
		return 0
	}
	if k < len(matches) {
		k = len(matches)
	}
	agreement := 0.0
	if k > 1 {
		for _, m := range matches[1:] {
			agreement += math.Min(m.Score/top, 1)
		}
		agreement /= float64(k - 1)
	}
	c := (topWeight*top + agreementWeight*agreement) / (topWeight + agreementWeight)
	return math.Round(math.Max(0, math.Min(1, c))*1e6) / 1e6
}

func sources(matches []domain.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.Chunk.ID]; ok {
			continue
		}
		seen[m.Chunk.ID] = struct{}{}
		out = append(out, m.Chunk.ID)
	}
	return out
}
