// Package pipeline runs the phased scan of a repository's compliance artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/delta"
	"github.com/ppiankov/traceguard/internal/graph"
	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/metrics"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/notify"
	"github.com/ppiankov/traceguard/internal/parser"
	"github.com/ppiankov/traceguard/internal/reconcile"
	"github.com/ppiankov/traceguard/internal/source"
	"github.com/ppiankov/traceguard/internal/store"
	"github.com/ppiankov/traceguard/internal/verify"
)

// Phase names one step of a scan run
type Phase string

const (
	PhaseDiscovery      Phase = "discovery"
	PhaseDeltaDetection Phase = "delta_detection"
	PhaseFetch          Phase = "fetch"
	PhaseParse          Phase = "parse"
	PhaseValidate       Phase = "validate"
	PhasePersist        Phase = "persist"
	PhaseGraphBuild     Phase = "graph_build"
	PhaseEvidenceCheck  Phase = "evidence_check"
	PhaseNotify         Phase = "notify"
)

var (
	// ErrRunTerminal is returned when executing a completed or failed run
	ErrRunTerminal = errors.New("scan run already finished")
	// ErrRunActive is returned when executing a run that is already in progress
	ErrRunActive = errors.New("scan run already in progress")
	// ErrNotViable is returned when discovery finds nothing worth scanning
	ErrNotViable = errors.New("repository is not viable for scanning")
)

// PhaseError is the error a failed run returns to its caller
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Options wires an Orchestrator. Verifier, Notifier and Metrics are optional.
type Options struct {
	Store    store.Store
	Source   source.Client
	Parser   *parser.Registry
	Verifier *verify.Service
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Ref      string
	Scan     model.ScanConfig
	Logger   *zap.Logger
}

// Orchestrator drives scan runs through their phases
type Orchestrator struct {
	store      store.Store
	source     source.Client
	parser     *parser.Registry
	reconciler *reconcile.Reconciler
	graph      *graph.Builder
	verifier   *verify.Service
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	ref        string
	cfg        model.ScanConfig
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	logger := logging.OrNop(opts.Logger)
	ref := opts.Ref
	if ref == "" {
		ref = "main"
	}
	return &Orchestrator{
		store:      opts.Store,
		source:     opts.Source,
		parser:     opts.Parser,
		reconciler: reconcile.NewReconciler(opts.Store, logger),
		graph:      graph.NewBuilder(opts.Store, opts.Store, logger),
		verifier:   opts.Verifier,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		ref:        ref,
		cfg:        opts.Scan,
		logger:     logging.Component(logger, "pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartScan records a pending run for a repository and returns its id
func (o *Orchestrator) StartScan(ctx context.Context, repoID string) (string, error) {
	run := &model.ScanRun{
		ID:           uuid.NewString(),
		RepositoryID: repoID,
		Status:       model.RunPending,
		CreatedAt:    o.now(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create scan run: %w", err)
	}
	return run.ID, nil
}

// RunStatus returns the current state of a run
func (o *Orchestrator) RunStatus(ctx context.Context, runID string) (*model.ScanRun, error) {
	return o.store.GetRun(ctx, runID)
}

// scan carries state between the phases of one run
type scan struct {
	run      *model.ScanRun
	repo     source.Repo
	revision string
	kinds    map[string]model.Kind // Qualifying path -> kind
	entries  []source.TreeEntry
	changes  delta.ChangeSet
	blobs    []source.Blob
	parsed   []*model.Artifact
	valid    []*model.Artifact
	rejected []reconcile.Rejection
	result   *reconcile.Result
}

type step struct {
	phase Phase
	run   func(ctx context.Context, s *scan) error
}

func (o *Orchestrator) steps() []step {
	return []step{
		{PhaseDiscovery, o.discover},
		{PhaseDeltaDetection, o.detect},
		{PhaseFetch, o.fetch},
		{PhaseParse, o.parse},
		{PhaseValidate, o.validate},
		{PhasePersist, o.persist},
		{PhaseGraphBuild, o.buildGraph},
		{PhaseEvidenceCheck, o.checkEvidence},
		{PhaseNotify, o.notify},
	}
}

// ExecuteScan runs a pending scan run to completion. Whatever happens, the
// run ends completed or failed; a failure is returned as a *PhaseError.
// Callers must not execute the same run id concurrently.
func (o *Orchestrator) ExecuteScan(ctx context.Context, runID string, repo source.Repo, sink ProgressSink) (*model.ScanRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load scan run %s: %w", runID, err)
	}
	switch {
	case run.Status.Terminal():
		return run, ErrRunTerminal
	case run.Status == model.RunInProgress:
		return run, ErrRunActive
	}

	if err := run.Transition(model.RunInProgress, o.now()); err != nil {
		return run, err
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("start scan run: %w", err)
	}

	log := o.logger.With(zap.String("run_id", run.ID), zap.String("repository", run.RepositoryID))
	log.Info("scan started", zap.String("source", repo.String()))

	s := &scan{run: run, repo: repo, kinds: make(map[string]model.Kind)}
	prog := newProgress(sink, o.cfg.ProgressTimeout, log)
	steps := o.steps()

	for i, st := range steps {
		run.Phase = string(st.phase)
		prog.report(i*100/len(steps), st.phase)

		if err := ctx.Err(); err != nil {
			return run, o.fail(ctx, log, run, st.phase, err)
		}
		start := time.Now()
		err := st.run(ctx, s)
		o.metrics.ObservePhase(string(st.phase), time.Since(start), err)
		if err != nil {
			return run, o.fail(ctx, log, run, st.phase, err)
		}
		log.Debug("phase finished", zap.String("phase", string(st.phase)), zap.Duration("took", time.Since(start)))
	}

	done := *run
	if err := done.Transition(model.RunCompleted, o.now()); err != nil {
		return run, o.fail(ctx, log, run, PhaseNotify, err)
	}
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), &done); err != nil {
		return run, o.fail(ctx, log, run, PhaseNotify, fmt.Errorf("complete scan run: %w", err))
	}
	*run = done
	o.metrics.RunFinished(string(model.RunCompleted))
	prog.report(100, PhaseNotify)

	log.Info("scan completed",
		zap.Int("files_found", run.FilesFound),
		zap.Int("files_changed", run.FilesChanged),
		zap.Int("artifacts_created", run.ArtifactsCreated),
		zap.Int("artifacts_updated", run.ArtifactsUpdated),
		zap.Int("rejected", run.Rejected),
		zap.Int("broken_links", run.BrokenLinks),
		zap.Int64("duration_ms", run.DurationMS))
	return run, nil
}

// fail records the run as failed even when ctx has been cancelled
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, run *model.ScanRun, phase Phase, cause error) error {
	ctx = context.WithoutCancel(ctx)
	perr := &PhaseError{Phase: phase, Err: cause}

	run.Error = cause.Error()
	run.ErrorDetail = perr.Error()
	if err := run.Transition(model.RunFailed, o.now()); err != nil {
		log.Error("failed to mark run failed", zap.Error(err))
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		log.Error("failed to persist failed run", zap.Error(err))
	}
	o.metrics.RunFinished(string(model.RunFailed))
	log.Error("scan failed", zap.String("phase", string(phase)), zap.Error(cause))

	if o.notifier != nil {
		ev := notify.EventFromRun(run, model.RunFailed, o.now())
		if err := o.notifier.Notify(ctx, ev); err != nil {
			log.Warn("notify failed", zap.Error(err))
		}
	}
	return perr
}

func (o *Orchestrator) discover(ctx context.Context, s *scan) error {
	rev, err := o.source.LatestRevision(ctx, s.repo, o.ref)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", o.ref, err)
	}
	meta, err := o.source.RevisionMetadata(ctx, s.repo, rev)
	if err != nil {
		return fmt.Errorf("revision metadata: %w", err)
	}
	tree, err := o.source.ListTree(ctx, s.repo, meta.TreeID, true)
	if err != nil {
		return fmt.Errorf("list tree: %w", err)
	}

	s.revision = rev
	s.run.Revision = rev
	s.run.CommitMessage = meta.Message

	hasContext := false
	for _, entry := range tree {
		if entry.Type != "" && entry.Type != source.EntryBlob {
			continue
		}
		kind, ok := o.parser.Classify(entry.Path)
		if !ok {
			continue
		}
		s.kinds[entry.Path] = kind
		s.entries = append(s.entries, entry)
		if kind == model.KindContext {
			hasContext = true
		}
	}
	s.run.FilesFound = len(s.entries)

	if len(s.entries) == 0 {
		return fmt.Errorf("%w: no compliance artifacts found", ErrNotViable)
	}
	if !hasContext {
		return fmt.Errorf("%w: no context document found", ErrNotViable)
	}
	return nil
}

func (o *Orchestrator) detect(ctx context.Context, s *scan) error {
	prior, err := o.store.ListFingerprints(ctx, s.run.RepositoryID)
	if err != nil {
		return fmt.Errorf("list fingerprints: %w", err)
	}
	s.changes = delta.Detect(s.entries, prior)
	s.run.FilesChanged = len(s.changes.Changed)
	s.run.FilesDeleted = len(s.changes.Deleted)
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, s *scan) error {
	if len(s.changes.Changed) == 0 {
		return nil
	}
	paths := make([]string, len(s.changes.Changed))
	for i, e := range s.changes.Changed {
		paths[i] = e.Path
	}

	blobs, err := o.source.FetchMany(ctx, s.repo, paths, s.revision)
	if err != nil {
		return fmt.Errorf("fetch changed files: %w", err)
	}

	got := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		got[b.Path] = true
	}
	for _, p := range paths {
		if !got[p] {
			o.logger.Warn("changed file could not be fetched",
				zap.String("run_id", s.run.ID),
				zap.String("path", p))
		}
	}
	s.blobs = blobs
	return nil
}

// parse decodes fetched files parents first so that kinds commit in order
func (o *Orchestrator) parse(_ context.Context, s *scan) error {
	rank := make(map[model.Kind]int, len(model.Kinds))
	for i, k := range model.Kinds {
		rank[k] = i
	}
	sort.SliceStable(s.blobs, func(i, j int) bool {
		ki, kj := rank[s.kinds[s.blobs[i].Path]], rank[s.kinds[s.blobs[j].Path]]
		if ki != kj {
			return ki < kj
		}
		return s.blobs[i].Path < s.blobs[j].Path
	})

	for _, b := range s.blobs {
		kind := s.kinds[b.Path]
		a, err := o.parser.Parse(kind, b.Path, b.Content)
		if err != nil {
			s.rejected = append(s.rejected, reconcile.Rejection{Path: b.Path, Kind: kind, Reason: err.Error()})
			continue
		}
		a.ContentID = b.ContentID
		s.parsed = append(s.parsed, a)
	}
	return nil
}

func (o *Orchestrator) validate(_ context.Context, s *scan) error {
	valid, rejected := reconcile.Validate(s.run.RepositoryID, s.run.ID, s.parsed)
	s.valid = valid
	s.rejected = append(s.rejected, rejected...)
	s.run.Rejected = len(s.rejected)
	for _, r := range s.rejected {
		o.logger.Warn("file rejected",
			zap.String("run_id", s.run.ID),
			zap.String("path", r.Path),
			zap.String("reason", r.Reason))
	}
	return nil
}

// persist upserts artifacts, drops artifacts a rewritten file no longer
// declares, fingerprints the files that produced artifacts, then removes
// everything sourced from deleted paths
func (o *Orchestrator) persist(ctx context.Context, s *scan) error {
	repoID := s.run.RepositoryID

	res, err := o.reconciler.Persist(ctx, s.valid)
	if err != nil {
		return err
	}
	s.result = res
	s.run.ArtifactsCreated = res.Created
	s.run.ArtifactsUpdated = res.Updated
	o.metrics.Reconciled(res.Created, res.Updated, len(s.rejected))

	stored := make(map[string][]model.ArtifactKey, len(res.Persisted))
	for _, a := range res.Persisted {
		stored[a.SourcePath] = append(stored[a.SourcePath], a.Key())
	}
	// a rewritten file may no longer declare what it used to
	superseded := 0
	for _, b := range s.blobs {
		keep, ok := stored[b.Path]
		if !ok {
			continue
		}
		n, err := o.store.DeleteArtifactsByPathExcept(ctx, repoID, b.Path, keep)
		if err != nil {
			return fmt.Errorf("remove superseded artifacts of %s: %w", b.Path, err)
		}
		superseded += n
	}
	if superseded > 0 {
		o.logger.Info("removed artifacts no longer declared",
			zap.String("run_id", s.run.ID),
			zap.Int("artifacts", superseded))
	}
	now := o.now()
	var fps []model.Fingerprint
	for _, b := range s.blobs {
		if _, ok := stored[b.Path]; !ok {
			continue
		}
		fps = append(fps, model.Fingerprint{
			RepositoryID:  repoID,
			Path:          b.Path,
			ContentID:     b.ContentID,
			Kind:          s.kinds[b.Path],
			LastScannedAt: now,
		})
	}
	if len(fps) > 0 {
		if err := o.store.UpsertFingerprints(ctx, fps); err != nil {
			return fmt.Errorf("upsert fingerprints: %w", err)
		}
	}

	if len(s.changes.Deleted) > 0 {
		n, err := o.store.DeleteArtifactsByPath(ctx, repoID, s.changes.Deleted)
		if err != nil {
			return fmt.Errorf("delete artifacts: %w", err)
		}
		if err := o.store.DeleteFingerprints(ctx, repoID, s.changes.Deleted); err != nil {
			return fmt.Errorf("delete fingerprints: %w", err)
		}
		o.logger.Info("removed deleted files",
			zap.String("run_id", s.run.ID),
			zap.Int("paths", len(s.changes.Deleted)),
			zap.Int("artifacts", n))
	}
	return nil
}

func (o *Orchestrator) buildGraph(ctx context.Context, s *scan) error {
	res, err := o.graph.Build(ctx, s.run.RepositoryID)
	if err != nil {
		return err
	}
	s.run.BrokenLinks = res.Invalid
	o.metrics.SetBrokenLinks(s.run.RepositoryID, res.Invalid)
	return nil
}

// checkEvidence verifies evidence written by this run. Verification
// problems are recorded per item and never fail the run.
func (o *Orchestrator) checkEvidence(ctx context.Context, s *scan) error {
	if o.verifier == nil || !o.cfg.VerifyEvidence || s.result == nil {
		return nil
	}
	var ids []string
	for _, a := range s.result.Persisted {
		if a.Kind == model.KindEvidence && a.Content != "" {
			ids = append(ids, a.NaturalID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	res := o.verifier.VerifyBatch(ctx, s.run.RepositoryID, ids)
	for _, item := range res.Results {
		switch {
		case item.Error != "":
			o.metrics.Verification(metrics.OutcomeError)
		case item.IsValid:
			o.metrics.Verification(metrics.OutcomeValid)
			s.run.EvidenceVerified++
		default:
			o.metrics.Verification(metrics.OutcomeInvalid)
			o.logger.Info("evidence signature not accepted",
				zap.String("run_id", s.run.ID),
				zap.String("evidence_id", item.ID),
				zap.String("reason", item.Outcome.Reason))
		}
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, s *scan) error {
	if o.notifier == nil {
		return nil
	}
	ev := notify.EventFromRun(s.run, model.RunCompleted, o.now())
	if err := o.notifier.Notify(ctx, ev); err != nil {
		o.logger.Warn("notify failed", zap.String("run_id", s.run.ID), zap.Error(err))
	}
	return nil
}
