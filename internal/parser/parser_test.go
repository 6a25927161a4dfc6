package parser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/verify"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestRegistry_Classify(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		path   string
		want   model.Kind
		wantOK bool
	}{
		{path: "context.md", want: model.KindContext, wantOK: true},
		{path: "docs/context.md", want: model.KindContext, wantOK: true},
		{path: "requirements/REQ-001.md", want: model.KindRequirement, wantOK: true},
		{path: "compliance/requirements/sub/REQ-002.md", want: model.KindRequirement, wantOK: true},
		{path: "stories/US-1.md", want: model.KindStory, wantOK: true},
		{path: "specs/SPEC-1.md", want: model.KindSpec, wantOK: true},
		{path: "evidence/run-1.jws", want: model.KindEvidence, wantOK: true},
		{path: "evidence/run-1.md", want: model.KindEvidence, wantOK: true},
		{path: "README.md", wantOK: false},
		{path: "requirements/notes.txt", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := r.Classify(tt.path)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Classify(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewRegistry_RejectsBadPatterns(t *testing.T) {
	if _, err := NewRegistry(map[model.Kind][]string{"widget": {"*.md"}}); err == nil {
		t.Error("expected unknown kind to fail")
	}
	if _, err := NewRegistry(map[model.Kind][]string{model.KindSpec: {"specs/[.md"}}); err == nil {
		t.Error("expected invalid glob to fail")
	}
}

func TestRegistry_Parse_FieldSpellings(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name       string
		kind       model.Kind
		doc        string
		wantID     string
		wantParent string
	}{
		{
			name:       "canonical",
			kind:       model.KindStory,
			doc:        "---\nid: US-1\nparent: REQ-001\n---\n",
			wantID:     "US-1",
			wantParent: "REQ-001",
		},
		{
			name:       "snake case",
			kind:       model.KindStory,
			doc:        "---\nnatural_id: US-2\nparent_id: REQ-001\n---\n",
			wantID:     "US-2",
			wantParent: "REQ-001",
		},
		{
			name:       "camel case",
			kind:       model.KindSpec,
			doc:        "---\nID: SPEC-1\nparentId: US-1\n---\n",
			wantID:     "SPEC-1",
			wantParent: "US-1",
		},
		{
			name:       "parent named by kind",
			kind:       model.KindEvidence,
			doc:        "---\nid: EV-1\nspec_id: SPEC-1\n---\n",
			wantID:     "EV-1",
			wantParent: "SPEC-1",
		},
		{
			name:   "requirement ignores parent",
			kind:   model.KindRequirement,
			doc:    "---\nid: REQ-001\nparent: X\n---\n",
			wantID: "REQ-001",
		},
		{
			name:   "numeric id",
			kind:   model.KindRequirement,
			doc:    "---\nid: 7\n---\n",
			wantID: "7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.Parse(tt.kind, "x.md", []byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if a.NaturalID != tt.wantID {
				t.Errorf("id = %q, want %q", a.NaturalID, tt.wantID)
			}
			if a.ParentRef != tt.wantParent {
				t.Errorf("parent = %q, want %q", a.ParentRef, tt.wantParent)
			}
			if a.Kind != tt.kind || a.SourcePath != "x.md" {
				t.Errorf("kind/path not stamped: %+v", a)
			}
		})
	}
}

func TestRegistry_Parse_RequirementFields(t *testing.T) {
	r := newTestRegistry(t)
	doc := "---\nid: REQ-001\nname: Encrypt data at rest\nrisk_level: Critical\nstatus: approved\nowner: secops\n---\n\n" +
		"All stored data <b>must</b> be encrypted.<script>alert(1)</script>\n"

	a, err := r.Parse(model.KindRequirement, "requirements/REQ-001.md", []byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if a.Title != "Encrypt data at rest" {
		t.Errorf("title = %q", a.Title)
	}
	if a.RiskLevel != model.RiskCritical {
		t.Errorf("risk = %q, want lowercased critical", a.RiskLevel)
	}
	if a.Status != "approved" {
		t.Errorf("status = %q", a.Status)
	}
	if a.Description != "All stored data must be encrypted." {
		t.Errorf("description = %q", a.Description)
	}
	if a.Metadata["owner"] != "secops" {
		t.Errorf("expected unknown field kept as metadata, got %v", a.Metadata)
	}
}

func TestRegistry_Parse_ContextWithoutFrontmatter(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Parse(model.KindContext, "context.md", []byte("# Payments platform\n\nScope of the audit."))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if a.NaturalID != ContextID {
		t.Errorf("id = %q, want %q", a.NaturalID, ContextID)
	}
	if a.Title != "Payments platform" {
		t.Errorf("title = %q", a.Title)
	}
}

func TestRegistry_Parse_MissingIDIsNotAnError(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Parse(model.KindSpec, "specs/x.md", []byte("---\ntitle: no id\n---\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if a.NaturalID != "" {
		t.Errorf("expected empty id, got %q", a.NaturalID)
	}
}

func TestRegistry_Parse_BadFrontmatter(t *testing.T) {
	r := newTestRegistry(t)

	tests := []string{
		"---\nid: [unclosed\n---\n",
		"---\nid: REQ-1\n",
	}
	for _, doc := range tests {
		_, err := r.Parse(model.KindRequirement, "requirements/bad.md", []byte(doc))
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Path != "requirements/bad.md" {
			t.Errorf("expected ParseError for %q, got %v", doc, err)
		}
	}
}

func segment(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestRegistry_Parse_SignedEvidence(t *testing.T) {
	r := newTestRegistry(t)
	doc := segment(t, map[string]any{"alg": "EdDSA", "kid": "ci"}) + "." +
		segment(t, map[string]any{"evidence_id": "EV-9", "spec": "SPEC-1", "result": "passed", "exp": 1, "suite": "unit"}) +
		"." + base64.RawURLEncoding.EncodeToString([]byte("sig"))

	a, err := r.Parse(model.KindEvidence, "evidence/EV-9.jws", []byte(doc+"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if a.NaturalID != "EV-9" || a.ParentRef != "SPEC-1" || a.Status != "passed" {
		t.Errorf("unexpected fields %+v", a)
	}
	if a.Content != doc {
		t.Error("expected trimmed signed document kept as content")
	}
	if _, ok := a.Metadata["exp"]; ok {
		t.Error("signature claims should not leak into metadata")
	}
	if a.Metadata["suite"] != "unit" {
		t.Errorf("expected suite metadata, got %v", a.Metadata)
	}
}

func TestRegistry_Parse_MalformedSignedEvidence(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Parse(model.KindEvidence, "evidence/bad.jws", []byte("not-a-jws"))
	var se *verify.StructureError
	if !errors.As(err, &se) || se.Reason != verify.ReasonSegmentCount {
		t.Errorf("expected segment_count structure error, got %v", err)
	}
}

func TestRegistry_Parse_MarkdownEvidenceCarriesContent(t *testing.T) {
	r := newTestRegistry(t)
	doc := "---\nid: EV-2\nspec: SPEC-1\njws: aaa.bbb.ccc\n---\nRun log.\n"

	a, err := r.Parse(model.KindEvidence, "evidence/EV-2.md", []byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if a.Content != "aaa.bbb.ccc" {
		t.Errorf("content = %q", a.Content)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain   text\n here", want: "plain text here"},
		{in: "<p>Hello <em>world</em></p>", want: "Hello world"},
		{in: "a &amp; b", want: "a & b"},
		{in: "<style>p{}</style>shown", want: "shown"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFoldKey(t *testing.T) {
	for _, k := range []string{"parent_id", "parentId", "Parent-ID", "parent id"} {
		if got := foldKey(k); !strings.EqualFold(got, "parentid") {
			t.Errorf("foldKey(%q) = %q", k, got)
		}
	}
}
