package model

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a scan run
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransition reports whether s may move to next
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunInProgress || next == RunFailed
	case RunInProgress:
		return next == RunCompleted || next == RunFailed
	default:
		return false
	}
}

// ScanRun is one auditable execution of the scan pipeline for a repository
type ScanRun struct {
	ID            string     `json:"id"`
	RepositoryID  string     `json:"repository_id"`
	Status        RunStatus  `json:"status"`
	Phase         string     `json:"phase,omitempty"` // Last phase entered
	Revision      string     `json:"revision,omitempty"`
	CommitMessage string     `json:"commit_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`

	FilesFound       int `json:"files_found"`
	FilesChanged     int `json:"files_changed"`
	FilesDeleted     int `json:"files_deleted"`
	ArtifactsCreated int `json:"artifacts_created"`
	ArtifactsUpdated int `json:"artifacts_updated"`
	Rejected         int `json:"rejected"`
	BrokenLinks      int `json:"broken_links"`
	EvidenceVerified int `json:"evidence_verified"`

	Error       string `json:"error,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Transition moves the run to next, stamping start and completion times
func (r *ScanRun) Transition(next RunStatus, at time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("scan run %s: invalid transition %s -> %s", r.ID, r.Status, next)
	}
	r.Status = next
	switch next {
	case RunInProgress:
		r.StartedAt = &at
	case RunCompleted, RunFailed:
		r.CompletedAt = &at
		if r.StartedAt != nil {
			r.DurationMS = at.Sub(*r.StartedAt).Milliseconds()
		}
	}
	return nil
}
