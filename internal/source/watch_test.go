package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitChange(t *testing.T, w *Watcher) bool {
	t.Helper()
	select {
	case <-w.Changes():
		return true
	case <-time.After(3 * time.Second):
		return false
	}
}

func TestWatcher_SignalsOnChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "context.md"), []byte("# ctx\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitChange(t, w) {
		t.Fatal("expected a change signal for a new file")
	}

	// Files in directories created after start are watched too
	sub := filepath.Join(dir, "requirements")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if !waitChange(t, w) {
		t.Fatal("expected a change signal for a new directory")
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "REQ-1.md"), []byte("---\nid: REQ-1\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitChange(t, w) {
		t.Fatal("expected a change signal inside the new directory")
	}
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-w.Changes(); ok {
		t.Error("changes channel should be closed")
	}
}

func TestWatcher_Ignored(t *testing.T) {
	w := &Watcher{root: "/repo"}
	tests := map[string]bool{
		"/repo/context.md":         false,
		"/repo/specs/SP-1.md":      false,
		"/repo/.git/index":         true,
		"/repo/specs/.SP-1.md.swp": true,
	}
	for p, want := range tests {
		if got := w.ignored(p); got != want {
			t.Errorf("ignored(%q) = %v, want %v", p, got, want)
		}
	}
}
