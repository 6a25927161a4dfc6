package risk

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

func art(kind model.Kind, id, parent string) *model.Artifact {
	return &model.Artifact{RepositoryID: "r", Kind: kind, NaturalID: id, ParentRef: parent}
}

func signed(id, spec string, valid bool) *model.Artifact {
	a := art(model.KindEvidence, id, spec)
	a.Verification = &model.Verification{SignatureValid: valid}
	return a
}

func TestScore_CoverageTruncates(t *testing.T) {
	// 3 requirements, 2 with a full requirement→story→spec chain
	snap := Snapshot{Artifacts: []*model.Artifact{
		art(model.KindRequirement, "REQ-1", ""),
		art(model.KindRequirement, "REQ-2", ""),
		art(model.KindRequirement, "REQ-3", ""),
		art(model.KindStory, "US-1", "REQ-1"),
		art(model.KindStory, "US-2", "REQ-2"),
		art(model.KindStory, "US-3", "REQ-3"), // no spec
		art(model.KindSpec, "SPEC-1", "US-1"),
		art(model.KindSpec, "SPEC-2", "US-2"),
	}}

	a := Score(snap)
	if a.SubScores.Coverage != 66 {
		t.Errorf("coverage = %d, want 66", a.SubScores.Coverage)
	}
	if a.Counts.CoveredRequirements != 2 {
		t.Errorf("covered = %d, want 2", a.Counts.CoveredRequirements)
	}
}

func TestScore_CoverageIgnoresDanglingStories(t *testing.T) {
	snap := Snapshot{Artifacts: []*model.Artifact{
		art(model.KindRequirement, "REQ-1", ""),
		art(model.KindStory, "US-1", "REQ-9"),
		art(model.KindSpec, "SPEC-1", "US-1"),
	}}

	if got := Score(snap).SubScores.Coverage; got != 0 {
		t.Errorf("coverage = %d, want 0", got)
	}
}

func TestScore_Boundaries(t *testing.T) {
	a := Score(Snapshot{})

	want := model.SubScores{Coverage: 0, EvidenceQuality: 0, VerificationCompleteness: 100, LinkIntegrity: 100}
	if a.SubScores != want {
		t.Errorf("empty snapshot sub-scores = %+v, want %+v", a.SubScores, want)
	}
	// 0.25*100 + 0.15*100 = 40
	if a.Total != 40 || a.Band != model.BandHigh {
		t.Errorf("total/band = %d/%s, want 40/high", a.Total, a.Band)
	}
	if len(a.Signals) != 4 {
		t.Errorf("expected one signal per sub-score, got %d", len(a.Signals))
	}
}

func TestScore_QualityAndCompleteness(t *testing.T) {
	snap := Snapshot{
		Artifacts: []*model.Artifact{
			art(model.KindSpec, "SPEC-1", ""),
			art(model.KindSpec, "SPEC-2", ""),
			art(model.KindSpec, "SPEC-3", ""),
			art(model.KindSpec, "SPEC-4", ""),
			signed("EV-1", "SPEC-1", true),
			signed("EV-2", "SPEC-1", false),
			signed("EV-3", "SPEC-2", true),
			art(model.KindEvidence, "EV-4", ""), // never verified, no spec
		},
		Edges: []model.Edge{{Valid: true}, {Valid: true}, {Valid: false}},
	}

	a := Score(snap)
	if a.SubScores.EvidenceQuality != 50 {
		t.Errorf("quality = %d, want 50", a.SubScores.EvidenceQuality)
	}
	if a.SubScores.VerificationCompleteness != 50 {
		t.Errorf("completeness = %d, want 50", a.SubScores.VerificationCompleteness)
	}
	if a.SubScores.LinkIntegrity != 66 {
		t.Errorf("integrity = %d, want 66", a.SubScores.LinkIntegrity)
	}
}

func TestComposite(t *testing.T) {
	tests := []struct {
		name string
		sub  model.SubScores
		want int
	}{
		{name: "all zero", sub: model.SubScores{}, want: 0},
		{name: "all full", sub: model.SubScores{Coverage: 100, EvidenceQuality: 100, VerificationCompleteness: 100, LinkIntegrity: 100}, want: 100},
		{name: "half rounds up", sub: model.SubScores{Coverage: 5}, want: 2},              // 1.5
		{name: "below half rounds down", sub: model.SubScores{LinkIntegrity: 3}, want: 0}, // 0.45
		{name: "negative clamps to zero", sub: model.SubScores{LinkIntegrity: -20}, want: 0},
		{name: "over full clamps", sub: model.SubScores{Coverage: 200, EvidenceQuality: 200}, want: 100},
		{name: "mixed", sub: model.SubScores{Coverage: 66, EvidenceQuality: 50, VerificationCompleteness: 50, LinkIntegrity: 66}, want: 57},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Composite(tt.sub); got != tt.want {
				t.Errorf("Composite(%+v) = %d, want %d", tt.sub, got, tt.want)
			}
		})
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		total int
		want  model.Band
	}{
		{100, model.BandLow},
		{80, model.BandLow},
		{79, model.BandMedium},
		{60, model.BandMedium},
		{59, model.BandHigh},
		{40, model.BandHigh},
		{39, model.BandCritical},
		{0, model.BandCritical},
	}

	for _, tt := range tests {
		if got := BandFor(tt.total); got != tt.want {
			t.Errorf("BandFor(%d) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func ruleNames(recs []model.Recommendation) map[string]model.Severity {
	out := make(map[string]model.Severity)
	for _, r := range recs {
		out[r.Rule] = r.Severity
	}
	return out
}

func TestRecommend(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := model.SubScores{Coverage: 90, EvidenceQuality: 90, VerificationCompleteness: 90, LinkIntegrity: 90}
		if recs := Recommend(s, model.RiskCounts{Evidence: 5}); len(recs) != 0 {
			t.Errorf("expected no recommendations, got %+v", recs)
		}
	})

	t.Run("no evidence is critical", func(t *testing.T) {
		s := model.SubScores{Coverage: 90, VerificationCompleteness: 100, LinkIntegrity: 100}
		got := ruleNames(Recommend(s, model.RiskCounts{}))
		if got["no_evidence"] != model.SeverityCritical {
			t.Errorf("expected critical no_evidence rule, got %v", got)
		}
		if _, ok := got["evidence_quality"]; !ok {
			t.Errorf("zero quality should fire the quality rule too, got %v", got)
		}
	})

	t.Run("combined and critical tag", func(t *testing.T) {
		s := model.SubScores{Coverage: 10, EvidenceQuality: 100, VerificationCompleteness: 20, LinkIntegrity: 59}
		got := ruleNames(Recommend(s, model.RiskCounts{Evidence: 1, CriticalRequirements: 1}))
		for _, name := range []string{"coverage", "verification_completeness", "link_integrity", "end_to_end", "critical_requirements"} {
			if _, ok := got[name]; !ok {
				t.Errorf("expected rule %s to fire, got %v", name, got)
			}
		}
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		s := model.SubScores{Coverage: 60, EvidenceQuality: 60, VerificationCompleteness: 60, LinkIntegrity: 60}
		if recs := Recommend(s, model.RiskCounts{Evidence: 1}); len(recs) != 0 {
			t.Errorf("expected no recommendations at 60, got %+v", recs)
		}
	})
}

func TestEngine_Compute(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	for _, a := range []*model.Artifact{
		{RepositoryID: "r", Kind: model.KindRequirement, NaturalID: "REQ-1", RiskLevel: model.RiskCritical},
		{RepositoryID: "r", Kind: model.KindStory, NaturalID: "US-1", ParentRef: "REQ-1"},
		{RepositoryID: "r", Kind: model.KindSpec, NaturalID: "SPEC-1", ParentRef: "US-1"},
		{RepositoryID: "other", Kind: model.KindRequirement, NaturalID: "REQ-X"},
	} {
		if _, err := s.UpsertArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(s, s, nil)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	a, err := e.Compute(ctx, "r")
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if a.SubScores.Coverage != 100 || a.Counts.Requirements != 1 || a.Counts.CriticalRequirements != 1 {
		t.Errorf("unexpected assessment %+v", a)
	}
	if !a.ComputedAt.Equal(fixed) || a.RepositoryID != "r" {
		t.Errorf("unexpected stamp %v / %s", a.ComputedAt, a.RepositoryID)
	}
	if a.Total < 0 || a.Total > 100 {
		t.Errorf("total out of range: %d", a.Total)
	}
}
