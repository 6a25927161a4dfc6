// Package risk computes the composite compliance risk of a repository from
// its current artifacts and edges.
package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

// Sub-score weights of the composite, in percent
const (
	WeightCoverage     = 30
	WeightQuality      = 30
	WeightCompleteness = 25
	WeightIntegrity    = 15
)

// Snapshot is the input of one assessment
type Snapshot struct {
	RepositoryID string
	Artifacts    []*model.Artifact
	Edges        []model.Edge
}

// Engine loads a fresh snapshot on every call and scores it
type Engine struct {
	artifacts store.ArtifactStore
	edges     store.EdgeStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a risk engine
func NewEngine(artifacts store.ArtifactStore, edges store.EdgeStore, logger *zap.Logger) *Engine {
	return &Engine{
		artifacts: artifacts,
		edges:     edges,
		logger:    logging.Component(logger, "risk"),
		now:       time.Now,
	}
}

// Compute scores the repository as currently stored
func (e *Engine) Compute(ctx context.Context, repoID string) (*model.Assessment, error) {
	artifacts, err := e.artifacts.ListArtifacts(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	edges, err := e.edges.ListEdges(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	a := Score(Snapshot{RepositoryID: repoID, Artifacts: artifacts, Edges: edges})
	a.ComputedAt = e.now().UTC()

	e.logger.Debug("risk computed",
		zap.String("repository", repoID),
		zap.Int("total", a.Total),
		zap.String("band", string(a.Band)))
	return &a, nil
}

// Score is the pure scoring function behind Engine.Compute
func Score(snap Snapshot) model.Assessment {
	in := tally(snap)
	var signals []model.Signal

	coverage, sig := coverageScore(in)
	signals = append(signals, sig)

	quality, sig := qualityScore(in)
	signals = append(signals, sig)

	completeness, sig := completenessScore(in)
	signals = append(signals, sig)

	integrity, sig := integrityScore(in)
	signals = append(signals, sig)

	sub := model.SubScores{
		Coverage:                 coverage,
		EvidenceQuality:          quality,
		VerificationCompleteness: completeness,
		LinkIntegrity:            integrity,
	}
	total := Composite(sub)

	return model.Assessment{
		RepositoryID:    snap.RepositoryID,
		SubScores:       sub,
		Total:           total,
		Band:            BandFor(total),
		Recommendations: Recommend(sub, in.counts),
		Signals:         signals,
		Counts:          in.counts,
	}
}

// Composite is the weighted total, rounded half up and kept in [0,100].
// The sum is taken in hundredths so x.5 never suffers float error.
func Composite(s model.SubScores) int {
	raw := WeightCoverage*s.Coverage +
		WeightQuality*s.EvidenceQuality +
		WeightCompleteness*s.VerificationCompleteness +
		WeightIntegrity*s.LinkIntegrity

	total := (raw + 50) / 100
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

// BandFor maps a composite score to its band. Lower bounds are inclusive.
func BandFor(total int) model.Band {
	switch {
	case total >= 80:
		return model.BandLow
	case total >= 60:
		return model.BandMedium
	case total >= 40:
		return model.BandHigh
	default:
		return model.BandCritical
	}
}

// percent truncates toward zero, so 2 of 3 is 66
func percent(n, d int) int {
	return n * 100 / d
}

type inputs struct {
	counts model.RiskCounts
}

func tally(snap Snapshot) inputs {
	var c model.RiskCounts

	storyParent := make(map[string]string)
	specsByStory := make(map[string]int)
	evidenceBySpec := make(map[string]int)
	requirements := make(map[string]bool)
	var specs []string

	for _, a := range snap.Artifacts {
		switch a.Kind {
		case model.KindRequirement:
			c.Requirements++
			requirements[a.NaturalID] = true
			if a.RiskLevel == model.RiskCritical {
				c.CriticalRequirements++
			}
		case model.KindStory:
			storyParent[a.NaturalID] = a.ParentRef
		case model.KindSpec:
			c.Specs++
			specs = append(specs, a.NaturalID)
			if a.ParentRef != "" {
				specsByStory[a.ParentRef]++
			}
		case model.KindEvidence:
			c.Evidence++
			if a.SignatureValid() {
				c.ValidEvidence++
			}
			if a.ParentRef != "" {
				evidenceBySpec[a.ParentRef]++
			}
		}
	}

	covered := make(map[string]bool)
	for story, req := range storyParent {
		if requirements[req] && specsByStory[story] > 0 {
			covered[req] = true
		}
	}
	c.CoveredRequirements = len(covered)

	for _, id := range specs {
		if evidenceBySpec[id] > 0 {
			c.VerifiedSpecs++
		}
	}

	c.Edges = len(snap.Edges)
	for _, e := range snap.Edges {
		if e.Valid {
			c.ValidEdges++
		}
	}
	return inputs{counts: c}
}

func severityFor(score int) model.Severity {
	switch {
	case score < 40:
		return model.SeverityCritical
	case score < 60:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// coverageScore: requirements with a story that has a spec; none ⇒ 0
func coverageScore(in inputs) (int, model.Signal) {
	c := in.counts
	if c.Requirements == 0 {
		return 0, model.Signal{
			Type:        model.SignalCoverage,
			Severity:    model.SeverityCritical,
			Description: "No requirements found",
			Data:        map[string]any{"requirements": 0},
		}
	}

	score := percent(c.CoveredRequirements, c.Requirements)
	return score, model.Signal{
		Type:        model.SignalCoverage,
		Severity:    severityFor(score),
		Description: fmt.Sprintf("%d of %d requirements trace to a story with a spec", c.CoveredRequirements, c.Requirements),
		Data: map[string]any{
			"requirements": c.Requirements,
			"covered":      c.CoveredRequirements,
			"score":        score,
			"formula":      "covered / requirements * 100",
		},
	}
}

// qualityScore: evidence with a valid signature; none ⇒ 0
func qualityScore(in inputs) (int, model.Signal) {
	c := in.counts
	if c.Evidence == 0 {
		return 0, model.Signal{
			Type:        model.SignalEvidenceQuality,
			Severity:    model.SeverityCritical,
			Description: "No evidence found",
			Data:        map[string]any{"evidence": 0},
		}
	}

	score := percent(c.ValidEvidence, c.Evidence)
	return score, model.Signal{
		Type:        model.SignalEvidenceQuality,
		Severity:    severityFor(score),
		Description: fmt.Sprintf("%d of %d evidence documents carry a valid signature", c.ValidEvidence, c.Evidence),
		Data: map[string]any{
			"evidence": c.Evidence,
			"valid":    c.ValidEvidence,
			"score":    score,
			"formula":  "valid / evidence * 100",
		},
	}
}

// completenessScore: specs with at least one evidence; none ⇒ 100
func completenessScore(in inputs) (int, model.Signal) {
	c := in.counts
	if c.Specs == 0 {
		return 100, model.Signal{
			Type:        model.SignalVerificationCompleteness,
			Severity:    model.SeverityInfo,
			Description: "No specs to verify",
			Data:        map[string]any{"specs": 0},
		}
	}

	score := percent(c.VerifiedSpecs, c.Specs)
	return score, model.Signal{
		Type:        model.SignalVerificationCompleteness,
		Severity:    severityFor(score),
		Description: fmt.Sprintf("%d of %d specs have evidence", c.VerifiedSpecs, c.Specs),
		Data: map[string]any{
			"specs":    c.Specs,
			"verified": c.VerifiedSpecs,
			"score":    score,
			"formula":  "verified / specs * 100",
		},
	}
}

// integrityScore: valid edges; none ⇒ 100
func integrityScore(in inputs) (int, model.Signal) {
	c := in.counts
	if c.Edges == 0 {
		return 100, model.Signal{
			Type:        model.SignalLinkIntegrity,
			Severity:    model.SeverityInfo,
			Description: "No traceability links",
			Data:        map[string]any{"edges": 0},
		}
	}

	score := percent(c.ValidEdges, c.Edges)
	return score, model.Signal{
		Type:        model.SignalLinkIntegrity,
		Severity:    severityFor(score),
		Description: fmt.Sprintf("%d of %d traceability links resolve", c.ValidEdges, c.Edges),
		Data: map[string]any{
			"edges":   c.Edges,
			"valid":   c.ValidEdges,
			"broken":  c.Edges - c.ValidEdges,
			"score":   score,
			"formula": "valid / edges * 100",
		},
	}
}
