package model

import "time"

// Kind classifies a compliance artifact
type Kind string

const (
	KindContext     Kind = "context"     // Root document describing the system under compliance
	KindRequirement Kind = "requirement" // Regulatory or product requirement
	KindStory       Kind = "story"       // User story implementing a requirement
	KindSpec        Kind = "spec"        // Specification detailing a story
	KindEvidence    Kind = "evidence"    // Signed test evidence for a spec
)

// Kinds lists every artifact kind in persistence order (parents before children)
var Kinds = []Kind{KindContext, KindRequirement, KindStory, KindSpec, KindEvidence}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindContext, KindRequirement, KindStory, KindSpec, KindEvidence:
		return true
	default:
		return false
	}
}

// ParentKind returns the kind a child of kind k must trace to.
// Context and requirement artifacts have no traceable parent.
func (k Kind) ParentKind() (Kind, bool) {
	switch k {
	case KindStory:
		return KindRequirement, true
	case KindSpec:
		return KindStory, true
	case KindEvidence:
		return KindSpec, true
	default:
		return "", false
	}
}

// RiskCritical is the highest risk tag a requirement can carry
const RiskCritical = "critical"

// Artifact is one structured compliance document belonging to a repository.
// It is identified within its repository by (Kind, NaturalID).
type Artifact struct {
	RepositoryID string         `json:"repository_id"`
	Kind         Kind           `json:"kind"`
	NaturalID    string         `json:"natural_id"`           // Short code, e.g. REQ-001
	ParentRef    string         `json:"parent_ref,omitempty"` // Declared parent natural id, stored verbatim
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status,omitempty"`
	RiskLevel    string         `json:"risk_level,omitempty"` // Requirements only
	SourcePath   string         `json:"source_path"`
	ContentID    string         `json:"content_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Content holds the signed evidence document (header.payload.signature)
	Content      string        `json:"content,omitempty"`
	Verification *Verification `json:"verification,omitempty"`

	ScanRunID string    `json:"scan_run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactKey is the natural key an artifact is upserted by
type ArtifactKey struct {
	RepositoryID string
	Kind         Kind
	NaturalID    string
}

// Key returns the upsert key of the artifact
func (a *Artifact) Key() ArtifactKey {
	return ArtifactKey{RepositoryID: a.RepositoryID, Kind: a.Kind, NaturalID: a.NaturalID}
}

// SignatureValid reports whether the artifact is evidence with a verified signature
func (a *Artifact) SignatureValid() bool {
	return a.Verification != nil && a.Verification.SignatureValid
}
