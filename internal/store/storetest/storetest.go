// Package storetest holds the behaviour every ChunkStore backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/domain"
	"coursebot/internal/store"
)

func chunk(doc string, pos int, text string) domain.Chunk {
	return domain.Chunk{
		ID:       doc + "#" + string(rune('a'+pos)),
		DocPath:  doc,
		Title:    "T " + doc,
		Module:   "ros2",
		Chapter:  "nodes",
		Position: pos,
		Text:     text,
	}
}

// Run exercises a fresh store produced by open.
func Run(t *testing.T, open func(t *testing.T) store.ChunkStore) {
	ctx := context.Background()

	t.Run("replace and read back in order", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Replace(ctx, "b.md", []domain.Chunk{chunk("b.md", 1, "b1"), chunk("b.md", 0, "b0")}))
		require.NoError(t, s.Replace(ctx, "a.md", []domain.Chunk{chunk("a.md", 0, "a0")}))

		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a0", "b0", "b1"}, texts(all))
		assert.Equal(t, "T b.md", all[1].Title)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("replace is wholesale", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Replace(ctx, "a.md", []domain.Chunk{chunk("a.md", 0, "old0"), chunk("a.md", 1, "old1")}))
		require.NoError(t, s.Replace(ctx, "a.md", []domain.Chunk{chunk("a.md", 0, "new0")}))

		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"new0"}, texts(all))

		got, err := s.Get(ctx, []string{"a.md#b"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("replace rejects foreign chunks", func(t *testing.T) {
		s := open(t)
		err := s.Replace(ctx, "a.md", []domain.Chunk{chunk("b.md", 0, "x")})
		assert.Error(t, err)
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("get preserves requested order", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Replace(ctx, "a.md", []domain.Chunk{chunk("a.md", 0, "a0"), chunk("a.md", 1, "a1")}))
		got, err := s.Get(ctx, []string{"a.md#b", "missing", "a.md#a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a0"}, texts(got))
	})

	t.Run("prune removes vanished documents", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Replace(ctx, "a.md", []domain.Chunk{chunk("a.md", 0, "a0")}))
		require.NoError(t, s.Replace(ctx, "b.md", []domain.Chunk{chunk("b.md", 0, "b0")}))
		require.NoError(t, s.Replace(ctx, "c.md", []domain.Chunk{chunk("c.md", 0, "c0")}))

		removed, err := s.Prune(ctx, []string{"b.md"})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b0"}, texts(all))
	})
}

func texts(chunks []domain.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Text)
	}
	return out
}
