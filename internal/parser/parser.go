// Package parser turns repository files into artifact records. It is the
// only place that knows about document syntax and field spellings; every
// record it returns uses the canonical model fields.
package parser

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ppiankov/traceguard/internal/model"
)

// Parser decodes one document format
type Parser interface {
	// Name returns the parser name
	Name() string

	// CanHandle checks if this parser understands the file at path
	CanHandle(path string) bool

	// Parse decodes content into an artifact of the given kind
	Parse(kind model.Kind, path string, content []byte) (*model.Artifact, error)
}

// ParseError reports a file that could not be turned into an artifact
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Registry classifies paths into artifact kinds and dispatches parsing
type Registry struct {
	patterns map[model.Kind][]string
	parsers  []Parser
	generic  Parser
}

// NewRegistry creates a registry for the given per-kind glob patterns.
// Nil or empty patterns fall back to model.DefaultPatterns.
func NewRegistry(patterns map[model.Kind][]string) (*Registry, error) {
	if len(patterns) == 0 {
		patterns = model.DefaultPatterns()
	}

	for kind, globs := range patterns {
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown artifact kind %q in patterns", kind)
		}
		for _, g := range globs {
			if !doublestar.ValidatePattern(g) {
				return nil, fmt.Errorf("invalid %s pattern %q", kind, g)
			}
		}
	}

	r := &Registry{
		patterns: patterns,
		generic:  NewMarkdownParser(),
	}
	r.Register(NewSignedParser())
	return r, nil
}

// Register adds a format parser; earlier registrations win
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Classify returns the artifact kind of path. Kinds are tried parents
// first, so a path matching several kinds takes the highest one.
func (r *Registry) Classify(p string) (model.Kind, bool) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	for _, kind := range model.Kinds {
		for _, g := range r.patterns[kind] {
			if ok, _ := doublestar.Match(g, p); ok {
				return kind, true
			}
		}
	}
	return "", false
}

// Parse decodes a file previously classified as kind
func (r *Registry) Parse(kind model.Kind, p string, content []byte) (*model.Artifact, error) {
	parser := r.find(p)
	a, err := parser.Parse(kind, p, content)
	if err != nil {
		return nil, &ParseError{Path: p, Err: err}
	}
	a.Kind = kind
	a.SourcePath = p
	return a, nil
}

func (r *Registry) find(p string) Parser {
	for _, parser := range r.parsers {
		if parser.CanHandle(p) {
			return parser
		}
	}
	return r.generic
}
