package spec

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser parses markdown specifications of the form:
//
//	# Project: WebShop
//
//	Backend: Python/Flask
//	Frontend: HTML/CSS
//	Database: sqlite
//
//	## Feature: user_login
//
//	Email and password login for customers.
//
//	Constraints: secure_login, use_a_database
//
// Paragraphs under a feature heading become its description. Constraints
// are given inline after "Constraints:" or as a bullet list under a bare
// "Constraints:" line.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

// NewMarkdownParser creates a markdown specification parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

var (
	projectHeadingRe = regexp.MustCompile(`^Project:\s*(.+)$`)
	featureHeadingRe = regexp.MustCompile(`^Feature:\s*(.+)$`)
)

// Parse implements Parser.
func (p *MarkdownParser) Parse(r io.Reader) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read specification: %w", err)
	}

	root := p.markdown.Parser().Parse(text.NewReader(content))

	doc := &Document{}
	var current *FeatureDoc
	var desc []string
	expectConstraints := false

	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.Join(desc, " ")
		doc.Features = append(doc.Features, *current)
		current = nil
		desc = nil
	}

	err = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			// Any heading closes the open feature section
			flush()
			expectConstraints = false
			headingText := extractText(node, content)
			switch node.Level {
			case 1:
				if m := projectHeadingRe.FindStringSubmatch(headingText); m != nil {
					doc.Project.Name = strings.TrimSpace(m[1])
				}
			case 2:
				if m := featureHeadingRe.FindStringSubmatch(headingText); m != nil {
					current = &FeatureDoc{Name: normalizeName(m[1])}
				}
			}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph:
			for _, line := range nodeLines(node, content) {
				if line == "" {
					continue
				}
				if current == nil {
					applyStackLine(&doc.Project, line)
					continue
				}
				if rest, ok := strings.CutPrefix(line, "Constraints:"); ok {
					if tags := splitTags(rest); len(tags) > 0 {
						current.Constraints = append(current.Constraints, tags...)
						expectConstraints = false
					} else {
						// Bare "Constraints:" line, tags follow as a list
						expectConstraints = true
					}
					continue
				}
				expectConstraints = false
				desc = append(desc, line)
			}
			return ast.WalkSkipChildren, nil

		case *ast.List:
			if current != nil && expectConstraints {
				for item := node.FirstChild(); item != nil; item = item.NextSibling() {
					if tag := itemText(item, content); tag != "" {
						current.Constraints = append(current.Constraints, tag)
					}
				}
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}
	flush()

	return doc, nil
}

// applyStackLine reads a "Key: value" line from the preamble into the
// project header.
func applyStackLine(project *ProjectDoc, line string) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "backend":
		project.TechStack.Backend = value
	case "frontend":
		project.TechStack.Frontend = value
	case "database":
		project.TechStack.Database = value
	}
}

// normalizeName lowercases a feature heading and joins words with
// underscores, so "Feature: User Login" and "Feature: user_login" agree.
func normalizeName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// splitTags splits a comma-separated tag list, dropping empties.
func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// extractText extracts plain text from an AST node's direct text children.
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

// itemText extracts the text of a list item, whose text sits one block
// level down.
func itemText(item ast.Node, source []byte) string {
	var parts []string
	for block := item.FirstChild(); block != nil; block = block.NextSibling() {
		if s := extractText(block, source); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// nodeLines returns the trimmed source lines backing a block node,
// preserving the boundaries goldmark folds into one paragraph.
func nodeLines(n ast.Node, source []byte) []string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, strings.TrimSpace(string(seg.Value(source))))
	}
	return out
}
