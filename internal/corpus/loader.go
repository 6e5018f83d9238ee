// Package corpus loads course source documents and derives their module/chapter tags from the docs tree.
package corpus

import (
	"context"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"coursebot/internal/domain"
)

// Loader reads documents from a docs tree such as a Docusaurus website/docs directory.
type Loader struct {
	fsys       fs.FS
	extensions map[string]struct{}
}

// NewLoader returns a loader over fsys accepting the given file extensions (".md" style).
func NewLoader(fsys fs.FS, extensions []string) *Loader {
	if len(extensions) == 0 {
		extensions = []string{".md", ".mdx", ".txt"}
	}
	ext := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		ext[strings.ToLower(e)] = struct{}{}
	}
	return &Loader{fsys: fsys, extensions: ext}
}

// Accepts reports whether a file name has one of the loader's extensions.
func (l *Loader) Accepts(name string) bool {
	_, ok := l.extensions[strings.ToLower(path.Ext(name))]
	return ok
}

// LoadAll walks the tree and returns every accepted document sorted by path.
// Any unreadable or untaggable document aborts the walk with an ingest error.
func (l *Loader) LoadAll(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return domain.NewIngestError(p, "walk docs tree", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !l.Accepts(p) {
			return nil
		}
		doc, err := l.Load(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// Load reads and cleans a single document at slash path p.
func (l *Loader) Load(p string) (domain.Document, error) {
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return domain.Document{}, domain.NewIngestError(p, "read document", err)
	}
	if !utf8.Valid(data) {
		return domain.Document{}, domain.NewIngestError(p, "document is not valid UTF-8", nil)
	}
	module, chapter, err := DeriveTags(p)
	if err != nil {
		return domain.Document{}, err
	}
	raw := string(data)
	title := extractTitle(raw)
	if title == "" {
		title = stem(p)
	}
	text := raw
	if ext := strings.ToLower(path.Ext(p)); ext == ".md" || ext == ".mdx" {
		text = StripMarkdown(raw)
	}
	return domain.Document{
		Path:    p,
		Title:   title,
		Module:  module,
		Chapter: chapter,
		Content: text,
	}, nil
}

// DeriveTags maps a docs-relative path to (module, chapter).
// "ros2/nodes.md" is (ros2, nodes); "ros2/nodes/pub.md" is (ros2, nodes); "intro.md" is (intro, intro).
func DeriveTags(p string) (string, string, error) {
	clean := path.Clean(p)
	if clean == "." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", "", domain.NewIngestError(p, "path must be relative to the docs root", nil)
	}
	parts := strings.Split(clean, "/")
	var module, chapter string
	switch len(parts) {
	case 1:
		module, chapter = "intro", stem(parts[0])
	case 2:
		module, chapter = parts[0], stem(parts[1])
	default:
		module, chapter = parts[0], parts[1]
	}
	module = strings.TrimSpace(module)
	chapter = strings.TrimSpace(chapter)
	if module == "" || chapter == "" {
		return "", "", domain.NewIngestError(p, "cannot derive module/chapter from path", nil)
	}
	return module, chapter, nil
}

func stem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\r?\n.*?\r?\n---\r?\n`)
	titleMetaRe   = regexp.MustCompile(`(?m)^title:\s*["']?(.+?)["']?\s*$`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,2}\s+(.+?)\s*#*\s*$`)
	fenceRe       = regexp.MustCompile("(?m)^[ \\t]*(```|~~~).*$")
	mdxLineRe     = regexp.MustCompile(`(?m)^(import|export)\s.*$`)
	imageRe       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	htmlTagRe     = regexp.MustCompile(`</?[A-Za-z][^>]*>`)
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	headingMarkRe = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	quoteMarkRe   = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	listMarkRe    = regexp.MustCompile(`(?m)^[ \t]*([-*+]|\d+\.)[ \t]+`)
	admonitionRe  = regexp.MustCompile(`(?m)^:::\w*.*$`)
	emphasisRe    = regexp.MustCompile(`(\*\*|__|~~|\*|` + "`" + `)`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
)

func extractTitle(raw string) string {
	if fm := frontMatterRe.FindString(raw); fm != "" {
		if m := titleMetaRe.FindStringSubmatch(fm); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if m := headingRe.FindStringSubmatch(frontMatterRe.ReplaceAllString(raw, "")); m != nil {
		return strings.TrimSpace(emphasisRe.ReplaceAllString(m[1], ""))
	}
	return ""
}

// StripMarkdown reduces markdown/MDX source to readable prose while keeping paragraph breaks.
func StripMarkdown(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = frontMatterRe.ReplaceAllString(s, "")
	s = htmlCommentRe.ReplaceAllString(s, "")
	s = fenceRe.ReplaceAllString(s, "")
	s = mdxLineRe.ReplaceAllString(s, "")
	s = admonitionRe.ReplaceAllString(s, "")
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = headingMarkRe.ReplaceAllString(s, "")
	s = quoteMarkRe.ReplaceAllString(s, "")
	s = listMarkRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
