package domain

import (
	"context"
	"time"
)

// Document is a single course source file loaded from the docs tree.
type Document struct {
	Path    string // slash-separated, relative to the docs root
	Title   string
	Module  string
	Chapter string
	Content string
}

// Chunk is an immutable, independently retrievable unit of course text.
type Chunk struct {
	ID       string
	DocPath  string
	Title    string
	Module   string
	Chapter  string
	Position int // sequence within the source document
	Text     string
}

// Filter restricts retrieval to a module and/or chapter. Empty fields match everything.
type Filter struct {
	Module  string
	Chapter string
}

// Matches reports whether the chunk lies inside the filter scope.
func (f Filter) Matches(c Chunk) bool {
	if f.Module != "" && NormalizeTag(c.Module) != NormalizeTag(f.Module) {
		return false
	}
	if f.Chapter != "" && NormalizeTag(c.Chapter) != NormalizeTag(f.Chapter) {
		return false
	}
	return true
}

// Query is a single user question, alive only for one request.
type Query struct {
	ID           string
	Question     string
	SelectedText string
	Filter       Filter
	Limit        int // overrides the configured top-K when > 0
	Timestamp    time.Time
}

// RetrievalText is what gets embedded for similarity search.
func (q Query) RetrievalText() string {
	if q.SelectedText == "" {
		return q.Question
	}
	return q.Question + "\n" + q.SelectedText
}

// ScoredChunk is one ranked retrieval candidate.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// RetrievalResult is the ranked candidate set for a query. Scores are non-increasing.
type RetrievalResult struct {
	Matches    []ScoredChunk
	K          int
	Generation uint64
	Degraded   bool
}

// Empty reports whether no chunk met the cutoff.
func (r RetrievalResult) Empty() bool { return len(r.Matches) == 0 }

// Answer is the synthesized response to a query.
type Answer struct {
	Text       string
	Confidence float64
	Sources    []string
	Grounded   bool
	Degraded   bool
}

// Embedder prepares an embedding model over a corpus. Remote embedders may return themselves.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) (EmbeddingModel, error)
}

// EmbeddingModel turns text into fixed-dimension vectors. Implementations are safe for concurrent use.
type EmbeddingModel interface {
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks.
type Chunker interface {
	Chunk(doc Document) ([]Chunk, error)
}

// Generator composes answer text from retrieved excerpts. It is an untrusted collaborator.
type Generator interface {
	Name() string
	Generate(ctx context.Context, question string, excerpts []ScoredChunk) (string, error)
}
