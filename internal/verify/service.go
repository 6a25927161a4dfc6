package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/store"
	"github.com/ppiankov/traceguard/internal/worker"
)

// ErrEmptyContent is returned for evidence that carries no signed document
var ErrEmptyContent = errors.New("evidence has no signed content")

// BatchItem is the outcome of one id in a batch, at the id's input position
type BatchItem struct {
	ID      string   `json:"id"`
	IsValid bool     `json:"is_valid"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BatchResult always holds one item per requested id, in request order.
// SuccessCount counts items verified without error, valid or not.
type BatchResult struct {
	TotalProcessed int         `json:"total_processed"`
	SuccessCount   int         `json:"success_count"`
	FailureCount   int         `json:"failure_count"`
	Results        []BatchItem `json:"results"`
}

// Service verifies stored evidence and writes the result back
type Service struct {
	artifacts store.ArtifactStore
	verifier  *Verifier
	pool      *worker.Pool
	logger    *zap.Logger

	// verifyOne is the per-item step of VerifyBatch
	verifyOne func(ctx context.Context, repoID, evidenceID string) (*Outcome, error)
}

// NewService creates a verification service; workers bounds batch concurrency
func NewService(artifacts store.ArtifactStore, verifier *Verifier, workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = 8
	}
	s := &Service{
		artifacts: artifacts,
		verifier:  verifier,
		pool:      worker.NewPool(workers),
		logger:    logging.Component(logger, "verify"),
	}
	s.verifyOne = s.VerifyOne
	return s
}

// VerifyOne verifies one evidence record and stores the outcome.
// Missing evidence surfaces store.ErrNotFound; evidence without signed
// content surfaces ErrEmptyContent. An invalid signature is not an error.
func (s *Service) VerifyOne(ctx context.Context, repoID, evidenceID string) (*Outcome, error) {
	key := model.ArtifactKey{RepositoryID: repoID, Kind: model.KindEvidence, NaturalID: strings.TrimSpace(evidenceID)}

	ev, err := s.artifacts.GetArtifact(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("evidence %s: %w", key.NaturalID, err)
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil, fmt.Errorf("evidence %s: %w", key.NaturalID, ErrEmptyContent)
	}

	outcome := s.verifier.Verify(ev.Content)
	if err := s.artifacts.UpdateVerification(ctx, key, outcome.Verification()); err != nil {
		return nil, fmt.Errorf("store verification of %s: %w", key.NaturalID, err)
	}

	s.logger.Debug("evidence verified",
		zap.String("repository", repoID),
		zap.String("evidence_id", key.NaturalID),
		zap.Bool("valid", outcome.IsValid),
		zap.String("reason", outcome.Reason))
	return &outcome, nil
}

// VerifyBatch verifies every id concurrently. A failing or panicking item
// becomes a failed entry; it never affects the others.
func (s *Service) VerifyBatch(ctx context.Context, repoID string, ids []string) BatchResult {
	results := worker.Run(ctx, s.pool, len(ids), func(ctx context.Context, i int) (*Outcome, error) {
		return s.verifyOne(ctx, repoID, ids[i])
	})

	out := BatchResult{TotalProcessed: len(ids), Results: make([]BatchItem, len(ids))}
	for i, r := range results {
		item := BatchItem{ID: ids[i]}
		if r.Err != nil {
			item.Error = r.Err.Error()
			out.FailureCount++
			s.logger.Warn("evidence verification failed",
				zap.String("repository", repoID),
				zap.String("evidence_id", ids[i]),
				zap.Error(r.Err))
		} else if r.Value != nil {
			item.Outcome = r.Value
			item.IsValid = r.Value.IsValid
			out.SuccessCount++
		} else {
			item.Error = "verification returned no outcome"
			out.FailureCount++
		}
		out.Results[i] = item
	}
	return out
}
