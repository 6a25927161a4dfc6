package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/traceguard/internal/graph"
	"github.com/ppiankov/traceguard/internal/model"
)

var (
	graphBroken bool
	graphTrace  string
	graphDown   bool
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <repo-id>",
	Short: "Rebuild and inspect the traceability graph",
	Long: `Graph rebuilds the traceability links of a repository from its stored
artifacts, lists broken links, or traces one artifact up to its requirement
or down to its evidence.

Example:
  traceguard graph acme/payments-compliance
  traceguard graph acme/payments-compliance --broken
  traceguard graph acme/payments-compliance --trace evidence:EV-001
  traceguard graph acme/payments-compliance --trace requirement:REQ-001 --down`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().BoolVar(&graphBroken, "broken", false, "list broken links only")
	graphCmd.Flags().StringVar(&graphTrace, "trace", "", "trace an artifact given as KIND:ID")
	graphCmd.Flags().BoolVar(&graphDown, "down", false, "trace towards evidence instead of requirements")
}

func runGraph(cmd *cobra.Command, args []string) error {
	repoID := args[0]
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	b := graph.NewBuilder(a.store, a.store, a.logger)
	out := cmd.OutOrStdout()

	switch {
	case graphTrace != "":
		kind, id, err := parseTrace(graphTrace)
		if err != nil {
			return err
		}
		var chain *graph.Chain
		if graphDown {
			chain, err = b.Downstream(cmd.Context(), repoID, kind, id)
		} else {
			chain, err = b.Upstream(cmd.Context(), repoID, kind, id)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, chain)
		}
		printChain(out, chain)
		return nil

	case graphBroken:
		links, err := b.BrokenLinks(cmd.Context(), repoID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, links)
		}
		printBroken(out, links)
		return nil
	}

	res, err := b.Build(cmd.Context(), repoID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "✓ Graph built: %d links (%d valid, %d broken), %d written, %d pruned\n",
		res.Total, res.Valid, res.Invalid, res.Upserted, res.Pruned)
	printBroken(out, graph.BrokenLinks(res.Edges))
	return nil
}

func parseTrace(s string) (model.Kind, string, error) {
	k, id, ok := strings.Cut(s, ":")
	kind := model.Kind(strings.ToLower(strings.TrimSpace(k)))
	id = strings.TrimSpace(id)
	if !ok || id == "" || !kind.Valid() {
		return "", "", fmt.Errorf("invalid trace %q: expected KIND:ID, e.g. story:US-1", s)
	}
	return kind, id, nil
}

func printBroken(w io.Writer, links []model.BrokenLink) {
	if len(links) == 0 {
		fmt.Fprintln(w, "No broken links")
		return
	}
	fmt.Fprintf(w, "%d broken links:\n", len(links))
	for _, l := range links {
		fmt.Fprintf(w, "  %s %s -> %s %s: %s\n", l.ChildKind, l.Target, l.ParentKind, l.Source, l.Reason)
	}
}

func printChain(w io.Writer, c *graph.Chain) {
	fmt.Fprintf(w, "%s %s (%s)\n", c.Start.Kind, c.Start.ID, c.Direction)
	for _, n := range c.Nodes {
		fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", n.Depth), n.Kind, n.ID)
	}
	if c.Cycle {
		fmt.Fprintln(w, "  (cycle detected; traversal stopped at a repeated artifact)")
	}
}
