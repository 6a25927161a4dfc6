package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/cache"
	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/metrics"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/notify"
	"github.com/ppiankov/traceguard/internal/parser"
	"github.com/ppiankov/traceguard/internal/pipeline"
	"github.com/ppiankov/traceguard/internal/source"
	"github.com/ppiankov/traceguard/internal/store"
	"github.com/ppiankov/traceguard/internal/verify"
)

// app holds the long-lived components one command needs
type app struct {
	cfg     *model.Config
	logger  *zap.Logger
	store   store.Store
	metrics *metrics.Metrics
	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if verbose && level != "debug" {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Format, nil)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: s, metrics: metrics.New()}
	a.closers = append(a.closers, s.Close)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// verifier builds the verification service. Configuration errors are fatal.
func (a *app) verifier() (*verify.Service, error) {
	production := a.cfg.Production()
	keys, err := verify.LoadKeyStore(a.cfg.Verification, production)
	if err != nil {
		return nil, err
	}
	v, err := verify.NewVerifier(keys, a.cfg.Verification, production)
	if err != nil {
		return nil, err
	}
	if keys.Development() {
		a.logger.Warn("using the bundled development signing key; evidence signed for production will not verify")
	}
	if keys.Len() == 0 && a.cfg.Verification.AllowUnverified {
		a.logger.Warn("no verification keys configured; evidence is recorded unverified")
	}
	return verify.NewService(a.store, v, a.cfg.Verification.Workers, a.logger), nil
}

func (a *app) notifier() notify.Notifier {
	multi := notify.Multi{notify.NewLog(a.logger)}
	if a.cfg.Notify.NATSURL == "" {
		return multi
	}
	n, err := notify.ConnectNATS(a.cfg.Notify.NATSURL, a.cfg.Notify.SubjectPrefix, a.logger)
	if err != nil {
		a.logger.Warn("nats notifications disabled", zap.Error(err))
		return multi
	}
	a.closers = append(a.closers, n.Close)
	return append(multi, n)
}

func (a *app) githubSource() source.Client {
	return source.NewGitHub(a.cfg.Source, cache.Open(a.cfg.Cache), a.logger)
}

func (a *app) orchestrator(src source.Client) (*pipeline.Orchestrator, error) {
	reg, err := parser.NewRegistry(a.cfg.Parser.Patterns)
	if err != nil {
		return nil, err
	}
	svc, err := a.verifier()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Store:    a.store,
		Source:   src,
		Parser:   reg,
		Verifier: svc,
		Notifier: a.notifier(),
		Metrics:  a.metrics,
		Ref:      a.cfg.Source.Ref,
		Scan:     a.cfg.Scan,
		Logger:   a.logger,
	}), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
