package model

import "time"

// Edge is a derived parent→child traceability relationship.
// Edges are recomputable from the artifact set and never authoritative on their own.
type Edge struct {
	RepositoryID string    `json:"repository_id"`
	ParentKind   Kind      `json:"parent_kind"`
	ParentRef    string    `json:"parent_ref"` // Declared reference, resolved or not
	ChildKind    Kind      `json:"child_kind"`
	ChildID      string    `json:"child_id"`
	Valid        bool      `json:"valid"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EdgeKey identifies an edge: one per child and declared parent reference
type EdgeKey struct {
	RepositoryID string
	ChildKind    Kind
	ChildID      string
	ParentRef    string
}

// Key returns the upsert key of the edge
func (e Edge) Key() EdgeKey {
	return EdgeKey{RepositoryID: e.RepositoryID, ChildKind: e.ChildKind, ChildID: e.ChildID, ParentRef: e.ParentRef}
}

// BrokenLink is an edge whose declared parent could not be resolved
type BrokenLink struct {
	Source     string `json:"source"` // Declared parent reference
	Target     string `json:"target"` // Child natural id
	ParentKind Kind   `json:"parent_kind"`
	ChildKind  Kind   `json:"child_kind"`
	Reason     string `json:"reason"`
}
