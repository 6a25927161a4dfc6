package model

import (
	"testing"
	"time"
)

func TestRunStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunPending, RunInProgress, true},
		{RunPending, RunFailed, true},
		{RunPending, RunCompleted, false},
		{RunInProgress, RunCompleted, true},
		{RunInProgress, RunFailed, true},
		{RunInProgress, RunPending, false},
		{RunCompleted, RunFailed, false},
		{RunCompleted, RunInProgress, false},
		{RunFailed, RunCompleted, false},
		{RunFailed, RunPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestScanRun_Transition(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &ScanRun{ID: "run-1", Status: RunPending}

	if err := run.Transition(RunInProgress, start); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if run.StartedAt == nil || !run.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v", run.StartedAt)
	}

	if err := run.Transition(RunCompleted, start.Add(1500*time.Millisecond)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if run.CompletedAt == nil || run.DurationMS != 1500 {
		t.Errorf("completion not stamped: %v, %dms", run.CompletedAt, run.DurationMS)
	}

	if err := run.Transition(RunFailed, start.Add(time.Hour)); err == nil {
		t.Error("terminal run must not transition")
	}
	if run.Status != RunCompleted {
		t.Errorf("status changed to %s after refused transition", run.Status)
	}
}

func TestKind_ParentKind(t *testing.T) {
	tests := []struct {
		kind   Kind
		parent Kind
		ok     bool
	}{
		{KindContext, "", false},
		{KindRequirement, "", false},
		{KindStory, KindRequirement, true},
		{KindSpec, KindStory, true},
		{KindEvidence, KindSpec, true},
	}
	for _, tt := range tests {
		parent, ok := tt.kind.ParentKind()
		if parent != tt.parent || ok != tt.ok {
			t.Errorf("%s.ParentKind() = %q, %v", tt.kind, parent, ok)
		}
	}
	if Kind("memo").Valid() {
		t.Error("unknown kind reported valid")
	}
}
