package graph

import (
	"context"
	"fmt"

	"github.com/ppiankov/traceguard/internal/model"
)

// Direction of a chain query
type Direction string

const (
	Upstream   Direction = "upstream"   // Towards requirements
	Downstream Direction = "downstream" // Towards evidence
)

// Node is one artifact reached by a chain query
type Node struct {
	Kind  model.Kind `json:"kind"`
	ID    string     `json:"id"`
	Depth int        `json:"depth"`
	From  string     `json:"from,omitempty"` // Id of the node this one was reached from
}

// Chain is the result of walking valid edges from a start artifact
type Chain struct {
	Start     Node      `json:"start"`
	Direction Direction `json:"direction"`
	Nodes     []Node    `json:"nodes"`
	Cycle     bool      `json:"cycle"` // A node was reached twice; the walk stopped there
}

type nodeKey struct {
	kind model.Kind
	id   string
}

// adjacency indexes valid edges in both directions
type adjacency struct {
	parents  map[nodeKey][]nodeKey
	children map[nodeKey][]nodeKey
}

func newAdjacency(edges []model.Edge) *adjacency {
	adj := &adjacency{
		parents:  make(map[nodeKey][]nodeKey),
		children: make(map[nodeKey][]nodeKey),
	}
	for _, e := range edges {
		if !e.Valid {
			continue
		}
		child := nodeKey{kind: e.ChildKind, id: e.ChildID}
		parent := nodeKey{kind: e.ParentKind, id: e.ParentRef}
		adj.parents[child] = append(adj.parents[child], parent)
		adj.children[parent] = append(adj.children[parent], child)
	}
	return adj
}

// Walk traverses edges breadth-first from (kind, id). The visited set
// guarantees termination even if the stored edges form a cycle.
func Walk(edges []model.Edge, kind model.Kind, id string, dir Direction) Chain {
	adj := newAdjacency(edges)
	next := adj.children
	if dir == Upstream {
		next = adj.parents
	}

	start := nodeKey{kind: kind, id: id}
	chain := Chain{Start: Node{Kind: kind, ID: id}, Direction: dir}
	visited := map[nodeKey]bool{start: true}

	type item struct {
		key   nodeKey
		depth int
	}
	queue := []item{{key: start}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, n := range next[cur.key] {
			if visited[n] {
				chain.Cycle = true
				continue
			}
			visited[n] = true
			chain.Nodes = append(chain.Nodes, Node{Kind: n.kind, ID: n.id, Depth: cur.depth + 1, From: cur.key.id})
			queue = append(queue, item{key: n, depth: cur.depth + 1})
		}
	}
	return chain
}

// Upstream walks from an artifact towards the requirements it traces to
func (b *Builder) Upstream(ctx context.Context, repoID string, kind model.Kind, id string) (*Chain, error) {
	return b.walk(ctx, repoID, kind, id, Upstream)
}

// Downstream walks from an artifact towards the evidence that covers it
func (b *Builder) Downstream(ctx context.Context, repoID string, kind model.Kind, id string) (*Chain, error) {
	return b.walk(ctx, repoID, kind, id, Downstream)
}

func (b *Builder) walk(ctx context.Context, repoID string, kind model.Kind, id string, dir Direction) (*Chain, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	if _, err := b.artifacts.GetArtifact(ctx, model.ArtifactKey{RepositoryID: repoID, Kind: kind, NaturalID: id}); err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}

	edges, err := b.edges.ListEdges(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	chain := Walk(edges, kind, id, dir)
	return &chain, nil
}
