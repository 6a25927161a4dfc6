package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/traceguard/internal/model"
)

// ContextID names a context document that declares no id of its own
const ContextID = "CONTEXT"

// MarkdownParser reads markdown documents whose fields live in YAML frontmatter
type MarkdownParser struct{}

// NewMarkdownParser creates a new markdown parser
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

// Name returns the parser name
func (p *MarkdownParser) Name() string {
	return "markdown"
}

// CanHandle accepts anything; markdown is the fallback format
func (p *MarkdownParser) CanHandle(string) bool {
	return true
}

// Parse extracts frontmatter fields; the body becomes the description
// when the frontmatter has none. Evidence documents carry their signed
// content in a jws or signature field.
func (p *MarkdownParser) Parse(kind model.Kind, path string, content []byte) (*model.Artifact, error) {
	text := strings.TrimPrefix(string(content), "\ufeff")

	var front map[string]any
	body := text
	if strings.HasPrefix(text, "---\n") || strings.HasPrefix(text, "---\r\n") {
		var err error
		front, body, err = splitFrontmatter(text)
		if err != nil {
			return nil, err
		}
	}

	a := normalize(kind, front)
	if a.NaturalID == "" && kind == model.KindContext {
		a.NaturalID = ContextID
	}
	if a.Description == "" {
		a.Description = StripHTML(body)
	}
	if a.Title == "" {
		a.Title = firstHeading(body)
	}
	return a, nil
}

// splitFrontmatter separates the YAML block from the document body
func splitFrontmatter(text string) (map[string]any, string, error) {
	const delimiter = "---"

	start := len(delimiter)
	if start < len(text) && text[start] == '\r' {
		start++
	}
	if start < len(text) && text[start] == '\n' {
		start++
	}

	rest := text[start:]
	closeIdx := -1
	if strings.HasPrefix(rest, delimiter) {
		closeIdx = 0
	} else if i := strings.Index(rest, "\n"+delimiter); i >= 0 {
		closeIdx = i + 1
	}
	if closeIdx < 0 {
		return nil, "", fmt.Errorf("no closing frontmatter delimiter")
	}

	yamlContent := rest[:closeIdx]
	body := strings.TrimLeft(rest[closeIdx+len(delimiter):], "\r\n")

	var front map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &front); err != nil {
		return nil, "", fmt.Errorf("parse YAML frontmatter: %w", err)
	}
	return front, body, nil
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			return ""
		}
	}
	return ""
}
