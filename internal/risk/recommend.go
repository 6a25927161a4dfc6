package risk

import "github.com/ppiankov/traceguard/internal/model"

// Threshold below which a sub-score triggers its recommendation
const Threshold = 60

type rule struct {
	name     string
	severity model.Severity
	text     string
	applies  func(s model.SubScores, c model.RiskCounts) bool
}

// rules are evaluated in order; every matching rule contributes
var rules = []rule{
	{
		name:     "coverage",
		severity: model.SeverityWarning,
		text:     "Trace every requirement to at least one user story with a specification.",
		applies: func(s model.SubScores, _ model.RiskCounts) bool {
			return s.Coverage < Threshold
		},
	},
	{
		name:     "evidence_quality",
		severity: model.SeverityWarning,
		text:     "Re-sign or re-verify evidence whose signature is missing, expired or invalid.",
		applies: func(s model.SubScores, _ model.RiskCounts) bool {
			return s.EvidenceQuality < Threshold
		},
	},
	{
		name:     "verification_completeness",
		severity: model.SeverityWarning,
		text:     "Attach signed test evidence to specifications that have none.",
		applies: func(s model.SubScores, _ model.RiskCounts) bool {
			return s.VerificationCompleteness < Threshold
		},
	},
	{
		name:     "link_integrity",
		severity: model.SeverityWarning,
		text:     "Fix broken traceability links so every declared parent exists.",
		applies: func(s model.SubScores, _ model.RiskCounts) bool {
			return s.LinkIntegrity < Threshold
		},
	},
	{
		name:     "end_to_end",
		severity: model.SeverityCritical,
		text:     "The traceability chain is incomplete end to end: requirements lack specs and specs lack evidence.",
		applies: func(s model.SubScores, _ model.RiskCounts) bool {
			return s.Coverage < Threshold && s.VerificationCompleteness < Threshold
		},
	},
	{
		name:     "critical_requirements",
		severity: model.SeverityCritical,
		text:     "Prioritize requirements tagged critical: confirm each has verified evidence before release.",
		applies: func(_ model.SubScores, c model.RiskCounts) bool {
			return c.CriticalRequirements > 0
		},
	},
	{
		name:     "no_evidence",
		severity: model.SeverityCritical,
		text:     "No test evidence exists. Compliance cannot be demonstrated until signed evidence is added.",
		applies: func(_ model.SubScores, c model.RiskCounts) bool {
			return c.Evidence == 0
		},
	},
}

// Recommend evaluates the rule table
func Recommend(s model.SubScores, c model.RiskCounts) []model.Recommendation {
	out := []model.Recommendation{}
	for _, r := range rules {
		if r.applies(s, c) {
			out = append(out, model.Recommendation{Rule: r.name, Severity: r.severity, Text: r.text})
		}
	}
	return out
}
