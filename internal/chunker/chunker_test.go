package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/config"
	"coursebot/internal/domain"
)

func doc(content string) domain.Document {
	return domain.Document{Path: "ros2/nodes.md", Title: "Nodes", Module: "ros2", Chapter: "nodes", Content: content}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("ROS 2 uses nodes. Each node is a process!  Is it?\n\nNew paragraph without stop\ncontinues here")
	assert.Equal(t, []string{
		"ROS 2 uses nodes.",
		"Each node is a process!",
		"Is it?",
		"New paragraph without stop continues here",
	}, got)
	assert.Equal(t, []string{"version 2.5 is out."}, SplitSentences("version 2.5 is out."))
}

func TestSentenceChunkerPacksAndOverlaps(t *testing.T) {
	sentences := []string{
		"Nodes are the basic unit of computation in ROS 2.",
		"Topics are named buses that nodes use to exchange messages.",
		"Services provide synchronous request and response calls.",
		"Actions are long running goals with feedback.",
	}
	c := NewSentenceChunker(120, 60, 0)
	chunks, err := c.Chunk(doc(strings.Join(sentences, " ")))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 120)
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, "ros2", ch.Module)
		assert.Equal(t, "nodes", ch.Chapter)
		assert.Equal(t, "ros2/nodes.md", ch.DocPath)
		assert.Len(t, ch.ID, 32)
	}
	assert.Equal(t, sentences[0]+" "+sentences[1], chunks[0].Text)
	// the last sentence of a chunk opens the next one when it fits in the overlap
	assert.True(t, strings.HasPrefix(chunks[1].Text, sentences[1]))
	assert.True(t, strings.HasPrefix(chunks[2].Text, sentences[2]))
}

func TestSentenceChunkerWrapsLongSentences(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 100))
	chunks, err := NewSentenceChunker(80, 0, 0).Chunk(doc(long))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 80)
		assert.False(t, strings.HasSuffix(ch.Text, "wor"))
	}
}

func TestShortChunksDroppedUnlessOnlyChunk(t *testing.T) {
	c := NewSentenceChunker(60, 0, 50)

	only, err := c.Chunk(doc("ROS 2 uses nodes and topics"))
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "ROS 2 uses nodes and topics", only[0].Text)

	mixed, err := c.Chunk(doc("A node is one process that performs some computation work. Tiny."))
	require.NoError(t, err)
	require.Len(t, mixed, 1)
	assert.Equal(t, "A node is one process that performs some computation work.", mixed[0].Text)

	empty, err := c.Chunk(doc("   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChunkIDsAreStable(t *testing.T) {
	c := NewSentenceChunker(100, 20, 0)
	d := doc("Gazebo simulates physics. It renders sensors. It models contacts between links.")
	first, err := c.Chunk(d)
	require.NoError(t, err)
	second, err := c.Chunk(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, ChunkID("a.md", 0, "x"), ChunkID("a.md", 0, "x"))
	assert.NotEqual(t, ChunkID("a.md", 0, "x"), ChunkID("b.md", 0, "x"))
	assert.NotEqual(t, ChunkID("a.md", 0, "x"), ChunkID("a.md", 1, "x"))
	assert.NotEqual(t, ChunkID("a.md", 0, "x"), ChunkID("a.md", 0, "y"))
}

func TestRecursiveChunker(t *testing.T) {
	text := strings.Repeat("Gazebo simulates rigid body physics for robots.\n\n", 20)
	c := NewRecursiveChunker(200, 40, 10)
	chunks, err := c.Chunk(doc(text))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 200)
		assert.Equal(t, i, ch.Position)
		assert.NotEmpty(t, ch.ID)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ChunkerConfig
		want    any
		wantErr bool
	}{
		{"default sentence", config.ChunkerConfig{TargetChars: 100, OverlapChars: 10}, &SentenceChunker{}, false},
		{"recursive", config.ChunkerConfig{Type: "recursive", TargetChars: 100}, &RecursiveChunker{}, false},
		{"unknown", config.ChunkerConfig{Type: "tokens", TargetChars: 100}, nil, true},
		{"overlap too big", config.ChunkerConfig{TargetChars: 100, OverlapChars: 100}, nil, true},
		{"zero target", config.ChunkerConfig{}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}
