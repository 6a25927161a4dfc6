// Package graph derives the traceability graph from the artifact set and
// answers broken-link and chain queries over it.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

// BuildResult summarises one graph build
type BuildResult struct {
	Total    int // Edges in the derived set
	Valid    int
	Invalid  int
	Upserted int // New or changed edges written
	Pruned   int // Stored edges no longer derivable
	Edges    []model.Edge
}

// Builder materialises derived edges into an edge store
type Builder struct {
	artifacts store.ArtifactStore
	edges     store.EdgeStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewBuilder creates a graph builder
func NewBuilder(artifacts store.ArtifactStore, edges store.EdgeStore, logger *zap.Logger) *Builder {
	return &Builder{
		artifacts: artifacts,
		edges:     edges,
		logger:    logging.Component(logger, "graph"),
		now:       time.Now,
	}
}

// Derive computes the edge set implied by the artifacts' parent references.
// A child with an empty reference yields no edge. Edges are sorted by key
// and carry no timestamp.
func Derive(artifacts []*model.Artifact) []model.Edge {
	ids := make(map[model.Kind]map[string]bool)
	for _, a := range artifacts {
		if ids[a.Kind] == nil {
			ids[a.Kind] = make(map[string]bool)
		}
		ids[a.Kind][a.NaturalID] = true
	}

	var edges []model.Edge
	for _, a := range artifacts {
		parentKind, ok := a.Kind.ParentKind()
		if !ok || strings.TrimSpace(a.ParentRef) == "" {
			continue
		}

		e := model.Edge{
			RepositoryID: a.RepositoryID,
			ParentKind:   parentKind,
			ParentRef:    a.ParentRef,
			ChildKind:    a.Kind,
			ChildID:      a.NaturalID,
			Valid:        ids[parentKind][a.ParentRef],
		}
		if !e.Valid {
			e.Reason = fmt.Sprintf("parent %s not found among %s artifacts", a.ParentRef, parentKind)
		}
		edges = append(edges, e)
	}

	sortEdges(edges)
	return edges
}

// Build re-derives the repository's edges and reconciles the stored set
// with them: new or changed edges are upserted, stale edges pruned.
// Rebuilding an unchanged artifact set writes nothing.
func (b *Builder) Build(ctx context.Context, repoID string) (*BuildResult, error) {
	artifacts, err := b.artifacts.ListArtifacts(ctx, repoID, model.KindRequirement, model.KindStory, model.KindSpec, model.KindEvidence)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	existing, err := b.edges.ListEdges(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	derived := Derive(artifacts)
	stored := make(map[model.EdgeKey]model.Edge, len(existing))
	for _, e := range existing {
		stored[e.Key()] = e
	}

	now := b.now().UTC()
	result := &BuildResult{Total: len(derived)}
	var changed []model.Edge
	for i := range derived {
		e := &derived[i]
		if e.Valid {
			result.Valid++
		} else {
			result.Invalid++
		}

		old, ok := stored[e.Key()]
		delete(stored, e.Key())
		if ok && old.Valid == e.Valid && old.Reason == e.Reason && old.ParentKind == e.ParentKind {
			e.UpdatedAt = old.UpdatedAt
			continue
		}
		e.UpdatedAt = now
		changed = append(changed, *e)
	}

	if len(changed) > 0 {
		if err := b.edges.UpsertEdges(ctx, changed); err != nil {
			return nil, fmt.Errorf("upsert edges: %w", err)
		}
	}

	stale := make([]model.EdgeKey, 0, len(stored))
	for k := range stored {
		stale = append(stale, k)
	}
	if len(stale) > 0 {
		if err := b.edges.DeleteEdges(ctx, stale); err != nil {
			return nil, fmt.Errorf("prune edges: %w", err)
		}
	}

	result.Upserted = len(changed)
	result.Pruned = len(stale)
	result.Edges = derived

	b.logger.Debug("graph built",
		zap.String("repository", repoID),
		zap.Int("edges", result.Total),
		zap.Int("invalid", result.Invalid),
		zap.Int("upserted", result.Upserted),
		zap.Int("pruned", result.Pruned))
	return result, nil
}

// BrokenLinks returns the invalid edges of a repository
func (b *Builder) BrokenLinks(ctx context.Context, repoID string) ([]model.BrokenLink, error) {
	edges, err := b.edges.ListEdges(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	return BrokenLinks(edges), nil
}

// BrokenLinks filters edges down to the ones whose parent did not resolve
func BrokenLinks(edges []model.Edge) []model.BrokenLink {
	var out []model.BrokenLink
	for _, e := range edges {
		if e.Valid {
			continue
		}
		out = append(out, model.BrokenLink{
			Source:     e.ParentRef,
			Target:     e.ChildID,
			ParentKind: e.ParentKind,
			ChildKind:  e.ChildKind,
			Reason:     e.Reason,
		})
	}
	return out
}

func sortEdges(edges []model.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.ChildKind != b.ChildKind {
			return a.ChildKind < b.ChildKind
		}
		if a.ChildID != b.ChildID {
			return a.ChildID < b.ChildID
		}
		return a.ParentRef < b.ParentRef
	})
}
