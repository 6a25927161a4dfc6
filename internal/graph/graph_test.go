package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

func art(kind model.Kind, id, parent string) *model.Artifact {
	return &model.Artifact{RepositoryID: "r", Kind: kind, NaturalID: id, ParentRef: parent, SourcePath: string(kind) + "/" + id + ".md"}
}

func seed(t *testing.T, s store.Store, artifacts ...*model.Artifact) {
	t.Helper()
	for _, a := range artifacts {
		if _, err := s.UpsertArtifact(context.Background(), a); err != nil {
			t.Fatalf("seed %s: %v", a.NaturalID, err)
		}
	}
}

func TestDerive_BrokenParent(t *testing.T) {
	edges := Derive([]*model.Artifact{art(model.KindStory, "US-1", "REQ-9")})

	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Valid {
		t.Error("expected invalid edge")
	}
	if !strings.Contains(e.Reason, "REQ-9") {
		t.Errorf("reason should cite the missing parent, got %q", e.Reason)
	}
	if e.ParentKind != model.KindRequirement || e.ChildKind != model.KindStory {
		t.Errorf("unexpected kind pair %s -> %s", e.ParentKind, e.ChildKind)
	}
}

func TestDerive_KindPairs(t *testing.T) {
	artifacts := []*model.Artifact{
		art(model.KindContext, "CONTEXT", ""),
		art(model.KindRequirement, "REQ-1", ""),
		art(model.KindStory, "US-1", "REQ-1"),
		art(model.KindStory, "US-2", ""),
		art(model.KindSpec, "SPEC-1", "US-1"),
		art(model.KindEvidence, "EV-1", "SPEC-1"),
		// Parent exists but is of the wrong kind
		art(model.KindEvidence, "EV-2", "US-1"),
	}

	edges := Derive(artifacts)
	want := map[string]bool{"US-1": true, "SPEC-1": true, "EV-1": true, "EV-2": false}

	if len(edges) != len(want) {
		t.Fatalf("expected %d edges, got %d: %+v", len(want), len(edges), edges)
	}
	for _, e := range edges {
		valid, ok := want[e.ChildID]
		if !ok {
			t.Errorf("unexpected edge for %s", e.ChildID)
			continue
		}
		if e.Valid != valid {
			t.Errorf("edge %s valid = %v, want %v", e.ChildID, e.Valid, valid)
		}
	}
}

func TestBuilder_Build_Idempotent(t *testing.T) {
	s := store.NewMemStore()
	seed(t, s,
		art(model.KindRequirement, "REQ-1", ""),
		art(model.KindStory, "US-1", "REQ-1"),
		art(model.KindStory, "US-9", "REQ-9"),
		art(model.KindSpec, "SPEC-1", "US-1"),
	)

	b := NewBuilder(s, s, nil)
	ctx := context.Background()

	first, err := b.Build(ctx, "r")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if first.Total != 3 || first.Valid != 2 || first.Invalid != 1 || first.Upserted != 3 {
		t.Errorf("unexpected first build %+v", first)
	}
	before, _ := s.ListEdges(ctx, "r")

	b.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := b.Build(ctx, "r")
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if second.Upserted != 0 || second.Pruned != 0 {
		t.Errorf("expected no writes on rebuild, got %+v", second)
	}
	after, _ := s.ListEdges(ctx, "r")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("edge set changed on rebuild (-before +after):\n%s", diff)
	}
}

func TestBuilder_Build_PrunesAndRevalidates(t *testing.T) {
	s := store.NewMemStore()
	seed(t, s,
		art(model.KindStory, "US-1", "REQ-1"),
		art(model.KindSpec, "SPEC-1", "US-1"),
	)
	b := NewBuilder(s, s, nil)
	ctx := context.Background()

	if _, err := b.Build(ctx, "r"); err != nil {
		t.Fatal(err)
	}

	// REQ-1 appears, SPEC-1 re-parents
	seed(t, s, art(model.KindRequirement, "REQ-1", ""), art(model.KindSpec, "SPEC-1", "US-2"))
	res, err := b.Build(ctx, "r")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("expected the old SPEC-1 edge pruned, got %+v", res)
	}

	edges, _ := s.ListEdges(ctx, "r")
	got := map[string]model.Edge{}
	for _, e := range edges {
		got[e.ChildID+"<-"+e.ParentRef] = e
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 edges, got %+v", edges)
	}
	if !got["US-1<-REQ-1"].Valid {
		t.Error("expected US-1 edge to become valid")
	}
	if got["SPEC-1<-US-2"].Valid {
		t.Error("expected SPEC-1 edge to US-2 to be invalid")
	}

	links, err := b.BrokenLinks(ctx, "r")
	if err != nil {
		t.Fatalf("BrokenLinks failed: %v", err)
	}
	if len(links) != 1 || links[0].Source != "US-2" || links[0].Target != "SPEC-1" {
		t.Errorf("unexpected broken links %+v", links)
	}
}

func TestBrokenLinks_Pure(t *testing.T) {
	edges := []model.Edge{
		{ParentRef: "REQ-1", ChildID: "US-1", Valid: true},
		{ParentRef: "REQ-9", ChildID: "US-2", ParentKind: model.KindRequirement, ChildKind: model.KindStory, Reason: "missing"},
	}

	want := []model.BrokenLink{{Source: "REQ-9", Target: "US-2", ParentKind: model.KindRequirement, ChildKind: model.KindStory, Reason: "missing"}}
	if diff := cmp.Diff(want, BrokenLinks(edges)); diff != "" {
		t.Errorf("BrokenLinks mismatch (-want +got):\n%s", diff)
	}
	if BrokenLinks(nil) != nil {
		t.Error("expected nil for no edges")
	}
}

func TestBuilder_UpstreamDownstream(t *testing.T) {
	s := store.NewMemStore()
	seed(t, s,
		art(model.KindRequirement, "REQ-1", ""),
		art(model.KindStory, "US-1", "REQ-1"),
		art(model.KindSpec, "SPEC-1", "US-1"),
		art(model.KindSpec, "SPEC-2", "US-1"),
		art(model.KindEvidence, "EV-1", "SPEC-1"),
	)
	b := NewBuilder(s, s, nil)
	ctx := context.Background()
	if _, err := b.Build(ctx, "r"); err != nil {
		t.Fatal(err)
	}

	down, err := b.Downstream(ctx, "r", model.KindRequirement, "REQ-1")
	if err != nil {
		t.Fatalf("Downstream failed: %v", err)
	}
	if len(down.Nodes) != 4 || down.Cycle {
		t.Fatalf("unexpected downstream chain %+v", down)
	}
	if down.Nodes[0].ID != "US-1" || down.Nodes[0].Depth != 1 || down.Nodes[3].ID != "EV-1" || down.Nodes[3].Depth != 3 {
		t.Errorf("unexpected order %+v", down.Nodes)
	}

	up, err := b.Upstream(ctx, "r", model.KindEvidence, "EV-1")
	if err != nil {
		t.Fatalf("Upstream failed: %v", err)
	}
	ids := []string{}
	for _, n := range up.Nodes {
		ids = append(ids, n.ID)
	}
	if diff := cmp.Diff([]string{"SPEC-1", "US-1", "REQ-1"}, ids); diff != "" {
		t.Errorf("upstream mismatch (-want +got):\n%s", diff)
	}

	if _, err := b.Upstream(ctx, "r", model.KindStory, "US-404"); err == nil {
		t.Error("expected unknown artifact to fail")
	}
}

func TestWalk_TerminatesOnCycle(t *testing.T) {
	edges := []model.Edge{
		{ParentKind: model.KindStory, ParentRef: "A", ChildKind: model.KindStory, ChildID: "B", Valid: true},
		{ParentKind: model.KindStory, ParentRef: "B", ChildKind: model.KindStory, ChildID: "A", Valid: true},
	}

	chain := Walk(edges, model.KindStory, "A", Downstream)
	if !chain.Cycle {
		t.Error("expected cycle to be reported")
	}
	if len(chain.Nodes) != 1 || chain.Nodes[0].ID != "B" {
		t.Errorf("unexpected nodes %+v", chain.Nodes)
	}
}
