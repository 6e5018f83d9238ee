package synth

import (
	"context"
	"math"
	"sort"
	"strings"

	"coursebot/internal/chunker"
	"coursebot/internal/domain"
	"coursebot/internal/tokenize"
)

// Extractive answers by quoting the excerpt sentences that best cover the question.
// Everything it returns is course text, so it always passes the grounding check.
type Extractive struct {
	maxSentences int
}

// NewExtractive returns an extractive generator keeping at most maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{maxSentences: maxSentences}
}

func (e *Extractive) Name() string { return "extractive" }

type sentence struct {
	excerpt int
	seq     int
	text    string
	terms   []string
	score   float64
}

// Generate ranks excerpt sentences by weighted overlap with the question terms. Term weights are
// frequencies across the excerpts normalised to the most frequent term; sentence scores are divided by
// the square root of their length. The chosen sentences keep excerpt order.
func (e *Extractive) Generate(ctx context.Context, question string, excerpts []domain.ScoredChunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(excerpts) == 0 {
		return "", domain.NewSynthesisError("no excerpts to answer from", nil)
	}

	var sentences []sentence
	freq := map[string]float64{}
	for i, ex := range excerpts {
		for j, s := range chunker.SplitSentences(ex.Chunk.Text) {
			terms := tokenize.Terms(s)
			for _, t := range terms {
				freq[t]++
			}
			sentences = append(sentences, sentence{excerpt: i, seq: j, text: s, terms: terms})
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(excerpts[0].Chunk.Text), nil
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	asked := tokenize.TermSet(question)
	matched := false
	for i := range sentences {
		s := &sentences[i]
		for _, t := range s.terms {
			if _, ok := asked[t]; ok {
				s.score += freq[t] / maxF
			}
		}
		if l := float64(len(s.terms)); l > 0 {
			s.score /= math.Sqrt(l)
		}
		// sentences of better ranked excerpts win ties
		s.score *= 0.5 + 0.5*excerpts[s.excerpt].Score
		if s.score > 0 {
			matched = true
		}
	}
	if !matched {
		// the index chose these excerpts, so the opening of the best one is still the closest answer
		return sentences[0].text, nil
	}

	ranked := make([]int, len(sentences))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return sentences[ranked[a]].score > sentences[ranked[b]].score })
	n := min(e.maxSentences, len(ranked))
	selected := make([]int, 0, n)
	for _, idx := range ranked[:n] {
		if sentences[idx].score <= 0 {
			break
		}
		selected = append(selected, idx)
	}
	sort.Ints(selected)

	out := make([]string, 0, len(selected))
	seen := make(map[string]struct{}, len(selected))
	for _, idx := range selected {
		text := sentences[idx].text
		// overlapping chunks repeat sentences
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return strings.Join(out, " "), nil
}
