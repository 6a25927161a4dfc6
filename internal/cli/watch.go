package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/source"
)

var (
	watchRepo     string
	watchDebounce time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Re-scan a local checkout whenever its files change",
	Long: `Watch scans a local checkout once, then again after every settled burst of
file changes. Only files whose content changed are re-parsed.

When a metrics address is configured, Prometheus metrics are served on
/metrics for as long as the watch runs.

Example:
  traceguard watch ./compliance --repo acme/payments-compliance
  traceguard watch . --repo acme/docs --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchRepo, "repo", "", "repository id to record scans under (default: local/<dir name>)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before a re-scan")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	_ = viper.BindPFlag("metrics.addr", watchCmd.Flags().Lookup("metrics-addr"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", args[0])
	}
	repoID := watchRepo
	if repoID == "" {
		repoID = "local/" + filepath.Base(dir)
	}
	repo, err := source.ParseRepo(repoID)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(source.NewLocal(dir))
	if err != nil {
		return err
	}
	w, err := source.NewWatcher(dir, watchDebounce, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", zap.String("addr", addr))
	}

	go func() { _ = w.Run(ctx) }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(os.Stderr, "Watching %s as %s (Ctrl+C to stop)\n", dir, repo)
	for {
		run, err := scanOnce(ctx, orch, repo, os.Stderr)
		if run != nil {
			printRun(out, run)
		}
		if err != nil {
			a.logger.Warn("scan failed", zap.Error(err))
		}

		if _, ok := <-w.Changes(); !ok {
			return nil
		}
	}
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}
