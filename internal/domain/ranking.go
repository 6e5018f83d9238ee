package domain

import "sort"

// SortMatches orders candidates by descending score. Ties go to the earlier position in the
// source document, then to document path and chunk ID so the order is total.
func SortMatches(matches []ScoredChunk) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Position != b.Chunk.Position {
			return a.Chunk.Position < b.Chunk.Position
		}
		if a.Chunk.DocPath != b.Chunk.DocPath {
			return a.Chunk.DocPath < b.Chunk.DocPath
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}
