package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown extracts .md files by parsing them and flattening the AST to
// plain text. A section outline is prepended so retrieval sees document
// structure even after markup is stripped.
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates the markdown extractor.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Markdown{parser: md}
}

func (m *Markdown) Extensions() []string {
	return []string{".md", ".markdown"}
}

func (m *Markdown) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	doc := m.parser.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	if outline := m.outline(doc, source); outline != "" {
		buf.WriteString("Sections: ")
		buf.WriteString(outline)
		buf.WriteString("\n\n")
	}

	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading, ast.KindParagraph, ast.KindCodeBlock,
			ast.KindFencedCodeBlock, ast.KindHTMLBlock:
			writeLines(&buf, source, n)
			buf.WriteString("\n")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walk markdown: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// outline renders the document's heading hierarchy as a single line,
// e.g. "Budget > Personnel; Budget > Equipment; Timeline".
func (m *Markdown) outline(doc ast.Node, source []byte) string {
	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil || len(tree.Items) == 0 {
		return ""
	}

	var paths []string
	collectPaths(tree.Items, nil, &paths)
	return strings.Join(paths, "; ")
}

func collectPaths(items toc.Items, ancestors []string, paths *[]string) {
	for _, item := range items {
		current := append(ancestors, string(item.Title))
		*paths = append(*paths, strings.Join(current, " > "))
		if len(item.Items) > 0 {
			collectPaths(item.Items, current, paths)
		}
	}
}

// writeLines copies a block node's raw source lines into buf.
func writeLines(buf *bytes.Buffer, source []byte, n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(source))
	}
}
