package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/pipeline"
	"github.com/ppiankov/traceguard/internal/source"
)

var (
	scanTimeout time.Duration
	scanLocal   string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <owner>/<repo>",
	Short: "Scan a repository and reconcile its compliance artifacts",
	Long: `Scan runs one scan of a repository:
- Resolve the latest revision and list its files
- Fetch only the files that changed since the last scan
- Parse and reconcile requirements, stories, specs and evidence
- Rebuild the traceability graph and verify evidence signatures

Example:
  traceguard scan acme/payments-compliance
  traceguard scan acme/payments-compliance --ref release-2.1
  traceguard scan acme/docs --local ./checkout --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Minute, "overall scan timeout")
	scanCmd.Flags().StringVar(&scanLocal, "local", "", "scan a local checkout instead of the remote repository")
	scanCmd.Flags().String("ref", "", "branch, tag or commit to scan")
	scanCmd.Flags().String("token", "", "API token (overrides TRACEGUARD_SOURCE_TOKEN)")
	scanCmd.Flags().String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	scanCmd.Flags().String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")

	_ = viper.BindPFlag("source.ref", scanCmd.Flags().Lookup("ref"))
	_ = viper.BindPFlag("source.token", scanCmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("source.http_proxy", scanCmd.Flags().Lookup("http-proxy"))
	_ = viper.BindPFlag("source.https_proxy", scanCmd.Flags().Lookup("https-proxy"))
}

func runScan(cmd *cobra.Command, args []string) error {
	repo, err := source.ParseRepo(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var src source.Client = a.githubSource()
	if scanLocal != "" {
		src = source.NewLocal(scanLocal)
	}
	orch, err := a.orchestrator(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	run, err := scanOnce(ctx, orch, repo, os.Stderr)
	if run == nil {
		return err
	}
	if jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), run); perr != nil {
			return perr
		}
	} else {
		printRun(cmd.OutOrStdout(), run)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// scanOnce starts and executes one run, reporting progress to w when verbose
func scanOnce(ctx context.Context, orch *pipeline.Orchestrator, repo source.Repo, w io.Writer) (*model.ScanRun, error) {
	runID, err := orch.StartScan(ctx, repo.String())
	if err != nil {
		return nil, err
	}

	var sink pipeline.ProgressSink
	if verbose {
		sink = pipeline.ProgressFunc(func(percent int, phase pipeline.Phase) error {
			_, err := fmt.Fprintf(w, "  [%3d%%] %s\n", percent, phase)
			return err
		})
	}
	return orch.ExecuteScan(ctx, runID, repo, sink)
}

func printRun(w io.Writer, run *model.ScanRun) {
	mark := "✓"
	if run.Status == model.RunFailed {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Scan %s: %s\n", mark, run.ID, run.Status)
	fmt.Fprintf(w, "  Repository:  %s\n", run.RepositoryID)
	if run.Revision != "" {
		fmt.Fprintf(w, "  Revision:    %s\n", run.Revision)
	}
	fmt.Fprintf(w, "  Files:       %d found, %d changed, %d deleted\n", run.FilesFound, run.FilesChanged, run.FilesDeleted)
	fmt.Fprintf(w, "  Artifacts:   %d created, %d updated, %d rejected\n", run.ArtifactsCreated, run.ArtifactsUpdated, run.Rejected)
	fmt.Fprintf(w, "  Links:       %d broken\n", run.BrokenLinks)
	fmt.Fprintf(w, "  Evidence:    %d verified\n", run.EvidenceVerified)
	if run.DurationMS > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", time.Duration(run.DurationMS)*time.Millisecond)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:       %s\n", run.ErrorDetail)
	}
}
