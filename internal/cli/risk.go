package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/traceguard/internal/risk"
)

// riskCmd represents the risk command
var riskCmd = &cobra.Command{
	Use:   "risk <repo-id>",
	Short: "Compute the compliance risk of a repository",
	Long: `Risk scores the current artifacts and traceability links of a repository.

Sub-scores (0-100, higher is better):
  coverage                  requirements traced through a story to a spec
  evidence quality          evidence with a verified signature
  verification completeness specs with at least one piece of evidence
  link integrity            traceability links that resolve

The composite weighs them 30/30/25/15 and maps to a low, medium, high or
critical risk band. The assessment is recomputed on every call.

Example:
  traceguard risk acme/payments-compliance
  traceguard risk acme/payments-compliance --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRisk,
}

func init() {
	rootCmd.AddCommand(riskCmd)
}

func runRisk(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	assessment, err := risk.NewEngine(a.store, a.store, a.logger).Compute(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, assessment)
	}

	s := assessment.SubScores
	fmt.Fprintf(out, "Risk assessment: %s\n\n", assessment.RepositoryID)
	fmt.Fprintf(out, "  Composite:                  %d/100 (%s risk)\n", assessment.Total, assessment.Band)
	fmt.Fprintf(out, "  Coverage:                   %d\n", s.Coverage)
	fmt.Fprintf(out, "  Evidence quality:           %d\n", s.EvidenceQuality)
	fmt.Fprintf(out, "  Verification completeness:  %d\n", s.VerificationCompleteness)
	fmt.Fprintf(out, "  Link integrity:             %d\n", s.LinkIntegrity)

	if len(assessment.Recommendations) > 0 {
		fmt.Fprintf(out, "\nRecommendations:\n")
		for _, r := range assessment.Recommendations {
			fmt.Fprintf(out, "  [%s] %s\n", r.Severity, r.Text)
		}
	}
	return nil
}
