package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statusRepo  string
	statusLimit int
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of a scan run",
	Long: `Status prints one scan run, or the most recent runs of a repository.

Example:
  traceguard status 1f0c6a9e-5b7d-4c1e-9d3a-2f8e6b4a7c10
  traceguard status --repo acme/payments-compliance --limit 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusRepo, "repo", "", "list recent runs of this repository")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "maximum runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && statusRepo == "" {
		return fmt.Errorf("either a run id or --repo is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := a.store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("scan run %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(out, run)
		}
		printRun(out, run)
		return nil
	}

	runs, err := a.store.ListRuns(cmd.Context(), statusRepo, statusLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "No scan runs for %s\n", statusRepo)
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%s  %-11s  %s  %s\n", run.ID, run.Status, run.CreatedAt.Format("2006-01-02 15:04:05"), run.Revision)
	}
	return nil
}
