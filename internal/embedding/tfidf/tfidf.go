// Package tfidf is a deterministic, local TF-IDF embedder.
package tfidf

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sort"

	"coursebot/internal/domain"
	"coursebot/internal/tokenize"
)

// Embedder builds frozen TF-IDF models. With dimension 0 every corpus term gets its own axis;
// otherwise terms are hashed into dimension buckets.
type Embedder struct {
	dimension int
}

// NewEmbedder creates a TF-IDF embedder. dimension 0 infers the dimension from the vocabulary.
func NewEmbedder(dimension int) *Embedder {
	if dimension < 0 {
		dimension = 0
	}
	return &Embedder{dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Prepare builds the vocabulary and IDF values from the corpus and returns them as an immutable model.
func (e *Embedder) Prepare(ctx context.Context, corpus []string) (domain.EmbeddingModel, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for tok := range tokenize.TermSet(text) {
			df[tok]++
		}
	}
	if len(df) == 0 {
		return nil, errors.New("no tokens found in corpus; ensure tokenizer supports your language")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	m := &Model{vocabulary: make(map[string]int, len(terms)), hashed: e.dimension > 0}
	n := float64(len(corpus))
	if m.hashed {
		m.idf = make([]float64, e.dimension)
		bucketDF := make([]int, e.dimension)
		for _, term := range terms {
			b := bucket(term, e.dimension)
			m.vocabulary[term] = b
			bucketDF[b] += df[term]
		}
		for i, d := range bucketDF {
			m.idf[i] = smoothedIDF(n, float64(d))
		}
	} else {
		m.idf = make([]float64, len(terms))
		for i, term := range terms {
			m.vocabulary[term] = i
			m.idf[i] = smoothedIDF(n, float64(df[term]))
		}
	}
	return m, nil
}

// Model is a frozen TF-IDF vocabulary. It never changes after Prepare, so vectors it produces
// are comparable with every vector of the index built from the same model.
type Model struct {
	vocabulary map[string]int
	idf        []float64
	hashed     bool
}

// Dimension returns the dimensionality of the produced embedding vectors.
func (m *Model) Dimension() int { return len(m.idf) }

// Embed computes L2-normalised TF-IDF vectors. Text without known terms yields the zero vector.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.embed(text)
	}
	return out, nil
}

func (m *Model) embed(text string) []float64 {
	vec := make([]float64, len(m.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokenize.Terms(text) {
		if idx, ok := m.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	for idx, count := range tf {
		vec[idx] += float64(count) / float64(total) * m.idf[idx]
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func smoothedIDF(n, df float64) float64 {
	return math.Log((1+n)/(1+df)) + 1.0
}

func bucket(term string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(dim))
}
