package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortMatches(t *testing.T) {
	sc := func(id, doc string, pos int, score float64) ScoredChunk {
		return ScoredChunk{Chunk: Chunk{ID: id, DocPath: doc, Position: pos}, Score: score}
	}
	matches := []ScoredChunk{
		sc("e", "b.md", 0, 0.2),
		sc("d", "b.md", 3, 0.9),
		sc("c", "a.md", 3, 0.9),
		sc("b", "z.md", 1, 0.9),
		sc("a", "a.md", 3, 0.9),
		sc("f", "a.md", 0, 0.5),
	}
	SortMatches(matches)

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Chunk.ID
	}
	// position beats path, path beats id
	assert.Equal(t, []string{"b", "a", "c", "d", "f", "e"}, ids)
}
