package synth

import (
	"coursebot/internal/domain"
	"coursebot/internal/tokenize"
)

// GroundingOverlap is the fraction of the answer's distinct content terms that occur somewhere in
// the excerpts. An answer with no content terms has overlap 0.
func GroundingOverlap(answer string, excerpts []domain.ScoredChunk) float64 {
	terms := tokenize.TermSet(answer)
	if len(terms) == 0 {
		return 0
	}
	grounded := make(map[string]struct{})
	for _, e := range excerpts {
		for t := range tokenize.TermSet(e.Chunk.Title + " " + e.Chunk.Text) {
			grounded[t] = struct{}{}
		}
	}
	hits := 0
	for t := range terms {
		if _, ok := grounded[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
