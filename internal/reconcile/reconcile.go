// Package reconcile validates parsed artifacts and upserts them by natural key.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
)

// Rejection explains why a file did not become an artifact
type Rejection struct {
	Path   string     `json:"path"`
	Kind   model.Kind `json:"kind,omitempty"`
	Reason string     `json:"reason"`
}

func (r Rejection) Error() string {
	if r.Kind == "" {
		return fmt.Sprintf("%s: %s", r.Path, r.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", r.Path, r.Kind, r.Reason)
}

// Result summarises one reconciliation
type Result struct {
	Created   int
	Updated   int
	Persisted []*model.Artifact // Artifacts written, in input order
	Rejected  []Rejection
}

// Reconciler writes artifacts through an ArtifactStore
type Reconciler struct {
	artifacts store.ArtifactStore
	logger    *zap.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(artifacts store.ArtifactStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{artifacts: artifacts, logger: logging.Component(logger, "reconcile")}
}

// Validate stamps repository and run onto each artifact and separates the
// ones that can be persisted from the ones that cannot. Natural ids are
// trimmed; when a natural id repeats within the batch the last one wins.
func Validate(repoID, runID string, artifacts []*model.Artifact) ([]*model.Artifact, []Rejection) {
	var (
		valid    []*model.Artifact
		rejected []Rejection
		index    = make(map[model.ArtifactKey]int)
	)
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		if !a.Kind.Valid() {
			rejected = append(rejected, Rejection{Path: a.SourcePath, Kind: a.Kind, Reason: "unknown artifact kind"})
			continue
		}
		a.NaturalID = strings.TrimSpace(a.NaturalID)
		if a.NaturalID == "" {
			rejected = append(rejected, Rejection{Path: a.SourcePath, Kind: a.Kind, Reason: "missing natural id"})
			continue
		}
		a.RepositoryID = repoID
		a.ScanRunID = runID

		if i, ok := index[a.Key()]; ok {
			valid[i] = a
			continue
		}
		index[a.Key()] = len(valid)
		valid = append(valid, a)
	}
	return valid, rejected
}

// Persist upserts validated artifacts. A storage error stops the batch.
func (r *Reconciler) Persist(ctx context.Context, artifacts []*model.Artifact) (*Result, error) {
	res := &Result{}
	for _, a := range artifacts {
		created, err := r.artifacts.UpsertArtifact(ctx, a)
		if err != nil {
			return res, fmt.Errorf("upsert %s %s: %w", a.Kind, a.NaturalID, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Persisted = append(res.Persisted, a)
	}
	return res, nil
}

// Reconcile validates and persists artifacts for one scan run
func (r *Reconciler) Reconcile(ctx context.Context, repoID, runID string, artifacts []*model.Artifact) (*Result, error) {
	valid, rejected := Validate(repoID, runID, artifacts)
	for _, rej := range rejected {
		r.logger.Warn("artifact rejected",
			zap.String("repository", repoID),
			zap.String("path", rej.Path),
			zap.String("reason", rej.Reason))
	}

	res, err := r.Persist(ctx, valid)
	res.Rejected = rejected
	if err != nil {
		return res, err
	}

	r.logger.Debug("artifacts reconciled",
		zap.String("repository", repoID),
		zap.String("run_id", runID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("rejected", len(res.Rejected)))
	return res, nil
}
