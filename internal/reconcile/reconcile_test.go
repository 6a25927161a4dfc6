package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

func requirement(id, title, path string) *model.Artifact {
	return &model.Artifact{Kind: model.KindRequirement, NaturalID: id, Title: title, SourcePath: path}
}

func TestReconcile_LatestTitleWins(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	r := NewReconciler(s, nil)

	res, err := r.Reconcile(ctx, "acme/docs", "run-1", []*model.Artifact{requirement("REQ-001", "First", "requirements/a.md")})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 {
		t.Errorf("first run: created=%d updated=%d", res.Created, res.Updated)
	}

	res, err = r.Reconcile(ctx, "acme/docs", "run-2", []*model.Artifact{requirement("REQ-001", "Second", "requirements/a.md")})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Errorf("second run: created=%d updated=%d", res.Created, res.Updated)
	}

	all, err := s.ListArtifacts(ctx, "acme/docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored artifact, got %d", len(all))
	}
	if all[0].Title != "Second" || all[0].ScanRunID != "run-2" {
		t.Errorf("stored artifact = %+v", all[0])
	}
}

func TestValidate(t *testing.T) {
	in := []*model.Artifact{
		requirement(" REQ-1 ", "one", "requirements/1.md"),
		requirement("", "anonymous", "requirements/x.md"),
		{Kind: "memo", NaturalID: "M-1", SourcePath: "memo.md"},
		nil,
		{Kind: model.KindStory, NaturalID: "US-1", ParentRef: " REQ-1", SourcePath: "stories/1.md"},
		requirement("REQ-1", "one again", "requirements/1b.md"),
	}

	valid, rejected := Validate("acme/docs", "run-1", in)

	wantRejected := []Rejection{
		{Path: "requirements/x.md", Kind: model.KindRequirement, Reason: "missing natural id"},
		{Path: "memo.md", Kind: "memo", Reason: "unknown artifact kind"},
	}
	if diff := cmp.Diff(wantRejected, rejected); diff != "" {
		t.Errorf("rejections mismatch (-want +got):\n%s", diff)
	}

	if len(valid) != 2 {
		t.Fatalf("expected 2 valid artifacts, got %d", len(valid))
	}
	if valid[0].Title != "one again" || valid[0].NaturalID != "REQ-1" {
		t.Errorf("duplicate should resolve to the last occurrence, got %+v", valid[0])
	}
	if valid[1].ParentRef != " REQ-1" {
		t.Errorf("parent reference must be kept verbatim, got %q", valid[1].ParentRef)
	}
	for _, a := range valid {
		if a.RepositoryID != "acme/docs" || a.ScanRunID != "run-1" {
			t.Errorf("artifact not stamped: %+v", a)
		}
	}
}

func TestReconcile_RejectionsDoNotStopBatch(t *testing.T) {
	s := store.NewMemStore()
	r := NewReconciler(s, nil)

	res, err := r.Reconcile(context.Background(), "acme/docs", "run-1", []*model.Artifact{
		requirement("", "no id", "requirements/bad.md"),
		requirement("REQ-2", "ok", "requirements/good.md"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || len(res.Rejected) != 1 || len(res.Persisted) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := res.Rejected[0].Error(); got != "requirements/bad.md (requirement): missing natural id" {
		t.Errorf("rejection message = %q", got)
	}
}

type failingStore struct {
	store.ArtifactStore
}

func (failingStore) UpsertArtifact(context.Context, *model.Artifact) (bool, error) {
	return false, errors.New("database is locked")
}

func TestReconcile_StorageErrorIsReturned(t *testing.T) {
	r := NewReconciler(failingStore{}, nil)

	_, err := r.Reconcile(context.Background(), "acme/docs", "run-1", []*model.Artifact{requirement("REQ-1", "x", "r.md")})
	if err == nil {
		t.Fatal("expected storage error")
	}
}
