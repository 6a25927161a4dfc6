package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/traceguard/internal/model"
)

type fingerprintKey struct {
	repo string
	path string
}

// MemStore is an in-memory Store; values are copied in and out
type MemStore struct {
	mu           sync.RWMutex
	runs         map[string]*model.ScanRun
	fingerprints map[fingerprintKey]model.Fingerprint
	artifacts    map[model.ArtifactKey]*model.Artifact
	edges        map[model.EdgeKey]model.Edge
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		runs:         make(map[string]*model.ScanRun),
		fingerprints: make(map[fingerprintKey]model.Fingerprint),
		artifacts:    make(map[model.ArtifactKey]*model.Artifact),
		edges:        make(map[model.EdgeKey]model.Edge),
	}
}

func (s *MemStore) CreateRun(_ context.Context, run *model.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) UpdateRun(_ context.Context, run *model.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) GetRun(_ context.Context, id string) (*model.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemStore) ListRuns(_ context.Context, repoID string, limit int) ([]*model.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ScanRun
	for _, run := range s.runs {
		if run.RepositoryID == repoID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListFingerprints(_ context.Context, repoID string) ([]model.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fingerprint
	for k, fp := range s.fingerprints {
		if k.repo == repoID {
			out = append(out, fp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemStore) UpsertFingerprints(_ context.Context, fps []model.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range fps {
		s.fingerprints[fingerprintKey{repo: fp.RepositoryID, path: fp.Path}] = fp
	}
	return nil
}

func (s *MemStore) DeleteFingerprints(_ context.Context, repoID string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.fingerprints, fingerprintKey{repo: repoID, path: p})
	}
	return nil
}

func (s *MemStore) GetArtifact(_ context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (s *MemStore) ListArtifacts(_ context.Context, repoID string, kinds ...model.Kind) ([]*model.Artifact, error) {
	want := make(map[model.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Artifact
	for k, a := range s.artifacts {
		if k.RepositoryID != repoID || (len(want) > 0 && !want[k.Kind]) {
			continue
		}
		out = append(out, cloneArtifact(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].NaturalID < out[j].NaturalID
	})
	return out, nil
}

func (s *MemStore) UpsertArtifact(_ context.Context, a *model.Artifact) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	next := cloneArtifact(a)
	next.UpdatedAt = now
	next.Verification = nil

	existing, ok := s.artifacts[a.Key()]
	if ok {
		next.CreatedAt = existing.CreatedAt
		if keepVerification(existing, a) {
			next.Verification = cloneVerification(existing.Verification)
		}
	} else {
		next.CreatedAt = now
	}
	s.artifacts[a.Key()] = next
	return !ok, nil
}

func (s *MemStore) DeleteArtifactsByPath(_ context.Context, repoID string, paths []string) (int, error) {
	gone := make(map[string]bool, len(paths))
	for _, p := range paths {
		gone[p] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, a := range s.artifacts {
		if k.RepositoryID == repoID && gone[a.SourcePath] {
			delete(s.artifacts, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DeleteArtifactsByPathExcept(_ context.Context, repoID, path string, keep []model.ArtifactKey) (int, error) {
	kept := make(map[model.ArtifactKey]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, a := range s.artifacts {
		if k.RepositoryID == repoID && a.SourcePath == path && !kept[k] {
			delete(s.artifacts, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) UpdateVerification(_ context.Context, key model.ArtifactKey, v *model.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[key]
	if !ok {
		return ErrNotFound
	}
	a.Verification = cloneVerification(v)
	return nil
}

func (s *MemStore) ListEdges(_ context.Context, repoID string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Edge
	for k, e := range s.edges {
		if k.RepositoryID == repoID {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *MemStore) UpsertEdges(_ context.Context, edges []model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		s.edges[e.Key()] = e
	}
	return nil
}

func (s *MemStore) DeleteEdges(_ context.Context, keys []model.EdgeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.edges, k)
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

func sortEdges(edges []model.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.ChildKind != b.ChildKind {
			return a.ChildKind < b.ChildKind
		}
		if a.ChildID != b.ChildID {
			return a.ChildID < b.ChildID
		}
		return a.ParentRef < b.ParentRef
	})
}

func cloneArtifact(a *model.Artifact) *model.Artifact {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Verification = cloneVerification(a.Verification)
	return &cp
}

func cloneVerification(v *model.Verification) *model.Verification {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

var _ Store = (*MemStore)(nil)
