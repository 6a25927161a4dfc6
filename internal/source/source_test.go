package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/traceguard/internal/cache"
	"github.com/ppiankov/traceguard/internal/model"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		in      string
		want    Repo
		wantErr bool
	}{
		{in: "acme/compliance", want: Repo{Owner: "acme", Name: "compliance"}},
		{in: "/acme/compliance/", want: Repo{Owner: "acme", Name: "compliance"}},
		{in: "acme", wantErr: true},
		{in: "acme/a/b", wantErr: true},
		{in: "/x", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRepo(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRepo(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepo(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRepo(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestBlobID_MatchesGit(t *testing.T) {
	// git hash-object of "hello\n"
	if got := BlobID([]byte("hello\n")); got != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Errorf("unexpected blob id %s", got)
	}
}

func newTestGitHub(t *testing.T, handler http.Handler) (*GitHub, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := model.DefaultConfig().Source
	cfg.BaseURL = server.URL
	cfg.Token = "test-token"
	cfg.RequestsPerSecond = 0
	cfg.Timeout = 5 * time.Second
	gh := NewGitHub(cfg, cache.NewMemory(time.Minute), nil)
	gh.sleep = func(context.Context, time.Duration) error { return nil }
	return gh, server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGitHub_DiscoveryCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/docs/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token")
		}
		writeJSON(w, map[string]any{"object": map[string]any{"sha": "c0ffee"}})
	})
	mux.HandleFunc("/repos/acme/docs/git/commits/c0ffee", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"sha": "c0ffee", "message": "add REQ-001", "tree": map[string]any{"sha": "tree1"}})
	})
	mux.HandleFunc("/repos/acme/docs/git/trees/tree1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") != "1" {
			t.Errorf("expected recursive listing")
		}
		writeJSON(w, map[string]any{"tree": []map[string]any{
			{"path": "context.md", "type": "blob", "sha": "a1", "size": 10},
			{"path": "requirements", "type": "tree", "sha": "t2"},
		}})
	})

	gh, _ := newTestGitHub(t, mux)
	ctx := context.Background()
	repo := Repo{Owner: "acme", Name: "docs"}

	rev, err := gh.LatestRevision(ctx, repo, "main")
	if err != nil || rev != "c0ffee" {
		t.Fatalf("LatestRevision = %q, %v", rev, err)
	}

	meta, err := gh.RevisionMetadata(ctx, repo, rev)
	if err != nil {
		t.Fatalf("RevisionMetadata failed: %v", err)
	}
	if meta.TreeID != "tree1" || meta.Message != "add REQ-001" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	entries, err := gh.ListTree(ctx, repo, meta.TreeID, true)
	if err != nil {
		t.Fatalf("ListTree failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ContentID != "a1" || entries[1].Type != EntryTree {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestGitHub_LatestRevision_FullSHA(t *testing.T) {
	gh, _ := newTestGitHub(t, http.NotFoundHandler())
	sha := strings.Repeat("a", 40)

	rev, err := gh.LatestRevision(context.Background(), Repo{Owner: "a", Name: "b"}, sha)
	if err != nil || rev != sha {
		t.Errorf("expected sha passthrough, got %q, %v", rev, err)
	}
}

func TestGitHub_ListTree_Truncated(t *testing.T) {
	gh, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"tree": []any{}, "truncated": true})
	}))

	if _, err := gh.ListTree(context.Background(), Repo{Owner: "a", Name: "b"}, "t", true); err == nil {
		t.Error("expected truncated listing to fail")
	}
}

func TestGitHub_APIError(t *testing.T) {
	gh, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"message": "Not Found"})
	}))

	_, err := gh.LatestRevision(context.Background(), Repo{Owner: "a", Name: "b"}, "main")
	if err == nil || !strings.Contains(err.Error(), "Not Found") {
		t.Errorf("expected API error with message, got %v", err)
	}
}

func TestGitHub_FetchMany_BestEffortAndCached(t *testing.T) {
	var hits int32
	gh, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Query().Get("ref") != "rev1" {
			t.Errorf("expected ref=rev1, got %s", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/repos/acme/docs/contents/requirements/REQ-001.md":
			writeJSON(w, map[string]any{
				"sha":      "b1",
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte("---\nid: REQ-001\n---\n")),
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	repo := Repo{Owner: "acme", Name: "docs"}
	paths := []string{"requirements/REQ-001.md", "broken.md"}

	blobs, err := gh.FetchMany(context.Background(), repo, paths, "rev1")
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected failing file to be omitted, got %d blobs", len(blobs))
	}
	if blobs[0].ContentID != "b1" || !strings.Contains(string(blobs[0].Content), "REQ-001") {
		t.Errorf("unexpected blob %+v", blobs[0])
	}

	before := atomic.LoadInt32(&hits)
	if _, err := gh.FetchMany(context.Background(), repo, paths[:1], "rev1"); err != nil {
		t.Fatalf("second FetchMany failed: %v", err)
	}
	if atomic.LoadInt32(&hits) != before {
		t.Error("expected cached blob to avoid a second request")
	}
}

func TestLocal_ListAndFetch(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("context.md", "ctx")
	mustWrite("requirements/REQ-001.md", "req")
	mustWrite(".git/HEAD", "ref: refs/heads/main")

	l := NewLocal(dir)
	ctx := context.Background()

	rev1, err := l.LatestRevision(ctx, Repo{}, "")
	if err != nil {
		t.Fatalf("LatestRevision failed: %v", err)
	}

	entries, err := l.ListTree(ctx, Repo{}, rev1, true)
	if err != nil {
		t.Fatalf("ListTree failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected hidden dirs skipped, got %+v", entries)
	}

	blobs, err := l.FetchMany(ctx, Repo{}, []string{"requirements/REQ-001.md", "../escape", "missing.md"}, rev1)
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}
	if len(blobs) != 1 || string(blobs[0].Content) != "req" {
		t.Errorf("unexpected blobs %+v", blobs)
	}

	mustWrite("requirements/REQ-001.md", "req v2")
	rev2, _ := l.LatestRevision(ctx, Repo{}, "")
	if rev1 == rev2 {
		t.Error("expected revision to change with content")
	}
}
