package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/traceguard/internal/verify"
	"github.com/ppiankov/traceguard/internal/worker"
)

var verifyFile string

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <repo-id> [evidence-id...]",
	Short: "Verify the signatures of stored evidence",
	Long: `Verify checks the signed documents of evidence artifacts and records the
result. Every id gets an outcome; a failing id never stops the others.

Example:
  traceguard verify acme/payments-compliance EV-001
  traceguard verify acme/payments-compliance EV-001 EV-002 EV-003
  traceguard verify acme/payments-compliance --file evidence-ids.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "read evidence ids from a file (one per line)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	repoID := args[0]
	ids := args[1:]
	if verifyFile != "" {
		lines, err := worker.ReadLines(verifyFile)
		if err != nil {
			return err
		}
		ids = append(ids, lines...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no evidence ids given")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.verifier()
	if err != nil {
		return err
	}
	res := svc.VerifyBatch(cmd.Context(), repoID, ids)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	for _, item := range res.Results {
		switch {
		case item.Error != "":
			fmt.Fprintf(out, "✗ %-20s error: %s\n", item.ID, item.Error)
		case item.IsValid:
			fmt.Fprintf(out, "✓ %-20s valid (%s, kid %s)\n", item.ID, item.Outcome.Algorithm, item.Outcome.KeyID)
		default:
			fmt.Fprintf(out, "✗ %-20s invalid: %s\n", item.ID, item.Outcome.Reason)
		}
	}
	fmt.Fprintf(out, "\n%d processed, %d verified without error, %d failed\n",
		res.TotalProcessed, res.SuccessCount, res.FailureCount)
	if res.FailureCount > 0 {
		return fmt.Errorf("%d of %d verifications failed: %s", res.FailureCount, res.TotalProcessed, failedIDs(res.Results))
	}
	return nil
}

func failedIDs(items []verify.BatchItem) string {
	var ids []string
	for _, item := range items {
		if item.Error != "" {
			ids = append(ids, item.ID)
		}
	}
	return strings.Join(ids, ", ")
}
