// Package chunker splits course documents into bounded, stably identified chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"coursebot/internal/config"
	"coursebot/internal/domain"
)

// New builds the chunker selected by cfg.Type.
func New(cfg config.ChunkerConfig) (domain.Chunker, error) {
	if cfg.TargetChars <= 0 {
		return nil, fmt.Errorf("chunker: target size must be positive, got %d", cfg.TargetChars)
	}
	if cfg.OverlapChars < 0 || cfg.OverlapChars >= cfg.TargetChars {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than target %d", cfg.OverlapChars, cfg.TargetChars)
	}
	switch cfg.Type {
	case "", "sentence":
		return NewSentenceChunker(cfg.TargetChars, cfg.OverlapChars, cfg.MinChars), nil
	case "recursive":
		return NewRecursiveChunker(cfg.TargetChars, cfg.OverlapChars, cfg.MinChars), nil
	default:
		return nil, fmt.Errorf("chunker: unknown type %q", cfg.Type)
	}
}

// ChunkID derives a chunk identifier from its document, sequence and text.
// The same content at the same place always yields the same ID.
func ChunkID(docPath string, seq int, text string) string {
	textSum := sha256.Sum256([]byte(text))
	key := docPath + "::" + strconv.Itoa(seq) + "::" + hex.EncodeToString(textSum[:])
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

// assemble turns split segments into chunks. Segments shorter than minChars are dropped
// unless that would leave the document with no chunk at all.
func assemble(doc domain.Document, segments []string, minChars int) []domain.Chunk {
	kept := make([]string, 0, len(segments))
	longest := ""
	for _, s := range segments {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if utf8.RuneCountInString(s) > utf8.RuneCountInString(longest) {
			longest = s
		}
		if utf8.RuneCountInString(s) < minChars {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 && longest != "" {
		kept = append(kept, longest)
	}
	chunks := make([]domain.Chunk, 0, len(kept))
	for seq, text := range kept {
		chunks = append(chunks, domain.Chunk{
			ID:       ChunkID(doc.Path, seq, text),
			DocPath:  doc.Path,
			Title:    doc.Title,
			Module:   doc.Module,
			Chapter:  doc.Chapter,
			Position: seq,
			Text:     text,
		})
	}
	return chunks
}
