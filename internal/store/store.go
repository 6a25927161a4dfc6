// Package store persists scan runs, fingerprints, artifacts and edges.
// Every write is an upsert keyed by natural identity, so repeating a
// write never duplicates a record.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/traceguard/internal/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// RunStore holds scan runs. Runs are never deleted.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.ScanRun) error
	UpdateRun(ctx context.Context, run *model.ScanRun) error
	GetRun(ctx context.Context, id string) (*model.ScanRun, error)
	// ListRuns returns the newest runs of a repository first
	ListRuns(ctx context.Context, repoID string, limit int) ([]*model.ScanRun, error)
}

// FingerprintStore holds at most one fingerprint per (repository, path)
type FingerprintStore interface {
	ListFingerprints(ctx context.Context, repoID string) ([]model.Fingerprint, error)
	UpsertFingerprints(ctx context.Context, fps []model.Fingerprint) error
	DeleteFingerprints(ctx context.Context, repoID string, paths []string) error
}

// ArtifactStore holds artifacts keyed by (repository, kind, natural id)
type ArtifactStore interface {
	GetArtifact(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error)
	// ListArtifacts returns artifacts of the given kinds, or all kinds when none are given
	ListArtifacts(ctx context.Context, repoID string, kinds ...model.Kind) ([]*model.Artifact, error)
	// UpsertArtifact inserts or overwrites the artifact's descriptive fields and
	// run id. Verification state survives unless the signed content changed.
	UpsertArtifact(ctx context.Context, a *model.Artifact) (created bool, err error)
	// DeleteArtifactsByPath removes artifacts sourced from the given paths
	DeleteArtifactsByPath(ctx context.Context, repoID string, paths []string) (int, error)
	// DeleteArtifactsByPathExcept removes artifacts sourced from path whose
	// key is not in keep
	DeleteArtifactsByPathExcept(ctx context.Context, repoID, path string, keep []model.ArtifactKey) (int, error)
	// UpdateVerification writes only the verification fields of an artifact
	UpdateVerification(ctx context.Context, key model.ArtifactKey, v *model.Verification) error
}

// EdgeStore holds traceability edges keyed by model.EdgeKey
type EdgeStore interface {
	ListEdges(ctx context.Context, repoID string) ([]model.Edge, error)
	UpsertEdges(ctx context.Context, edges []model.Edge) error
	DeleteEdges(ctx context.Context, keys []model.EdgeKey) error
}

// Store is the full persistence boundary
type Store interface {
	RunStore
	FingerprintStore
	ArtifactStore
	EdgeStore
	Close() error
}

// Open returns the store named by cfg.Driver
func Open(cfg model.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DSN)
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// keepVerification reports whether an existing verification result still
// applies to an incoming artifact
func keepVerification(existing, incoming *model.Artifact) bool {
	return existing.Verification != nil && existing.Content == incoming.Content
}
