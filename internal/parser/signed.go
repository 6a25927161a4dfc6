package parser

import (
	"path"
	"strings"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/verify"
)

// SignedParser reads raw compact signed documents (.jws files). Fields are
// taken from the unverified payload; verification happens later.
type SignedParser struct{}

// NewSignedParser creates a new signed-document parser
func NewSignedParser() *SignedParser {
	return &SignedParser{}
}

// Name returns the parser name
func (p *SignedParser) Name() string {
	return "jws"
}

// CanHandle accepts .jws and .jwt files
func (p *SignedParser) CanHandle(filePath string) bool {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".jws", ".jwt":
		return true
	default:
		return false
	}
}

// Parse decodes the payload claims into artifact fields
func (p *SignedParser) Parse(kind model.Kind, _ string, content []byte) (*model.Artifact, error) {
	doc := strings.TrimSpace(string(content))
	decoded, err := verify.ValidateStructure(doc)
	if err != nil {
		return nil, err
	}

	a := normalize(kind, decoded.Payload)
	a.Content = doc
	return a, nil
}
