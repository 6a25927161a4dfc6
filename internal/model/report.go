package model

import "time"

// Assessment is a risk projection over the current artifact and edge sets.
// It is recomputed on every request and never persisted as authoritative state.
type Assessment struct {
	RepositoryID    string           `json:"repository_id"`
	SubScores       SubScores        `json:"sub_scores"`
	Total           int              `json:"total"` // Weighted composite (0-100)
	Band            Band             `json:"band"`
	Recommendations []Recommendation `json:"recommendations"`
	Signals         []Signal         `json:"signals"`
	Counts          RiskCounts       `json:"counts"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// SubScores holds the four independent 0-100 sub-scores
type SubScores struct {
	Coverage                 int `json:"coverage"`
	EvidenceQuality          int `json:"evidence_quality"`
	VerificationCompleteness int `json:"verification_completeness"`
	LinkIntegrity            int `json:"link_integrity"`
}

// RiskCounts exposes the inputs behind each sub-score
type RiskCounts struct {
	Requirements         int `json:"requirements"`
	CoveredRequirements  int `json:"covered_requirements"`
	CriticalRequirements int `json:"critical_requirements"`
	Evidence             int `json:"evidence"`
	ValidEvidence        int `json:"valid_evidence"`
	Specs                int `json:"specs"`
	VerifiedSpecs        int `json:"verified_specs"`
	Edges                int `json:"edges"`
	ValidEdges           int `json:"valid_edges"`
}

// Band is a qualitative risk level derived from the composite score
type Band string

const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// Recommendation is one remediation hint produced by the rule table
type Recommendation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Severity indicates the importance of a recommendation
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SignalType names the measurement behind one sub-score
type SignalType string

const (
	SignalCoverage                 SignalType = "coverage"
	SignalEvidenceQuality          SignalType = "evidence_quality"
	SignalVerificationCompleteness SignalType = "verification_completeness"
	SignalLinkIntegrity            SignalType = "link_integrity"
)

// Signal explains how one sub-score was derived
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}
