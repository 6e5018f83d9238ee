package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"coursebot/internal/domain"
)

// SentenceChunker packs whole sentences into chunks of about targetChars,
// repeating trailing sentences up to overlapChars at the start of the next chunk.
type SentenceChunker struct {
	targetChars  int
	overlapChars int
	minChars     int
}

func NewSentenceChunker(targetChars, overlapChars, minChars int) *SentenceChunker {
	if targetChars <= 0 {
		targetChars = 1000
	}
	if overlapChars < 0 || overlapChars >= targetChars {
		overlapChars = 0
	}
	if minChars < 0 {
		minChars = 0
	}
	return &SentenceChunker{targetChars: targetChars, overlapChars: overlapChars, minChars: minChars}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := c.bounded(SplitSentences(document.Content))
	if len(sentences) == 0 {
		return nil, nil
	}
	var segments []string
	i := 0
	for i < len(sentences) {
		end := i
		size := 0
		for end < len(sentences) {
			n := runeLen(sentences[end])
			if end > i && size+1+n > c.targetChars {
				break
			}
			if end > i {
				size++
			}
			size += n
			end++
		}
		segments = append(segments, strings.Join(sentences[i:end], " "))
		if end == len(sentences) {
			break
		}
		// step back over trailing sentences that fit in the overlap, always advancing by one
		next := end
		carried := 0
		for next-1 > i {
			n := runeLen(sentences[next-1])
			if carried+n > c.overlapChars {
				break
			}
			carried += n + 1
			next--
		}
		i = next
	}
	return assemble(document, segments, c.minChars), nil
}

// bounded hard-wraps sentences longer than the target at word boundaries.
func (c *SentenceChunker) bounded(sentences []string) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		for runeLen(s) > c.targetChars {
			cut := wrapPoint(s, c.targetChars)
			out = append(out, strings.TrimSpace(s[:cut]))
			s = strings.TrimSpace(s[cut:])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// wrapPoint returns a byte offset at most limit runes into s, preferring the last space.
func wrapPoint(s string, limit int) int {
	cut := len(s)
	count := 0
	for idx := range s {
		if count == limit {
			cut = idx
			break
		}
		count++
	}
	if sp := strings.LastIndexFunc(s[:cut], unicode.IsSpace); sp > 0 {
		return sp
	}
	return cut
}

// SplitSentences breaks text after terminal punctuation followed by whitespace, and at blank lines.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.Join(strings.Fields(text[start:end]), " "); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		switch {
		case r == '.' || r == '!' || r == '?':
			if next >= len(text) {
				break
			}
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if unicode.IsSpace(nr) {
				flush(next)
			}
		case r == '\n' && strings.HasPrefix(text[next:], "\n"):
			flush(next)
		}
		i = next
	}
	flush(len(text))
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
