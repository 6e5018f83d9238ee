package chunker

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"coursebot/internal/domain"
)

// RecursiveChunker splits on paragraph, line and word separators in turn until segments fit the target size.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
	minChars int
}

func NewRecursiveChunker(targetChars, overlapChars, minChars int) *RecursiveChunker {
	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(targetChars),
			textsplitter.WithChunkOverlap(overlapChars),
		),
		minChars: minChars,
	}
}

func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	segments, err := c.splitter.SplitText(document.Content)
	if err != nil {
		return nil, domain.NewIngestError(document.Path, fmt.Sprintf("split document: %v", err), err)
	}
	return assemble(document, segments, c.minChars), nil
}
