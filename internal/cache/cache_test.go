package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/traceguard/internal/model"
)

func TestContentKey(t *testing.T) {
	base := ContentKey("acme/compliance", "abc123", "requirements/REQ-001.md")

	if base != ContentKey("acme/compliance", "abc123", "requirements/REQ-001.md") {
		t.Error("same file at the same revision should share a key")
	}
	for _, other := range []string{
		ContentKey("acme/compliance", "def456", "requirements/REQ-001.md"),
		ContentKey("acme/other", "abc123", "requirements/REQ-001.md"),
		ContentKey("acme/compliance", "abc123", "requirements/REQ-002.md"),
	} {
		if other == base {
			t.Errorf("key collision for %s", other)
		}
	}
	if len(base) != 64 {
		t.Errorf("key length = %d, want a hex sha256", len(base))
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory(time.Minute)
	if _, ok := m.Get("missing"); ok {
		t.Fatal("empty cache hit")
	}
	if err := m.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, ok := m.Get("k"); !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	_ = m.Put("k", []byte("v2"))
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestDisk_ExpiryFollowsLastUse(t *testing.T) {
	now := time.Now()
	d := NewDisk(t.TempDir(), time.Hour)
	d.now = func() time.Time { return now }
	key := ContentKey("r", "rev", "p")

	if err := d.Put(key, []byte("content")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.dir, key[:2], key)); err != nil {
		t.Fatalf("expected sharded file: %v", err)
	}

	now = now.Add(50 * time.Minute)
	if got, ok := d.Get(key); !ok || string(got) != "content" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	// the read above refreshed the entry
	now = now.Add(50 * time.Minute)
	if _, ok := d.Get(key); !ok {
		t.Fatal("entry read 50m ago should still be live")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := d.Get(key); ok {
		t.Error("expected expired entry to miss")
	}
	if _, err := os.Stat(filepath.Join(d.dir, key[:2], key)); !os.IsNotExist(err) {
		t.Errorf("expired file should be removed, stat err = %v", err)
	}
}

func TestDisk_Prune(t *testing.T) {
	now := time.Now()
	d := NewDisk(t.TempDir(), time.Hour)
	d.now = func() time.Time { return now }

	for _, k := range []string{"aa01", "aa02", "bb01"} {
		if err := d.Put(k, []byte(k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	old := now.Add(-2 * time.Hour)
	if err := os.Chtimes(d.file("aa02"), old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := d.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := d.Get("aa01"); !ok {
		t.Error("live entry pruned")
	}
}

func TestDisk_PruneMissingDir(t *testing.T) {
	d := NewDisk(filepath.Join(t.TempDir(), "never-created"), time.Hour)
	if n, err := d.Prune(); err != nil || n != 0 {
		t.Errorf("Prune = %d, %v", n, err)
	}
}

func TestLayered_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	key := ContentKey("r", "rev", "p")
	if err := NewDisk(dir, 0).Put(key, []byte("from-disk")); err != nil {
		t.Fatalf("seed disk: %v", err)
	}

	l := Open(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute, DiskDir: dir}).(*Layered)
	got, ok := l.Get(key)
	if !ok || string(got) != "from-disk" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if _, ok := l.front.Get(key); !ok {
		t.Error("disk hit not promoted to memory")
	}

	if err := l.back.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, ok := l.Get(key); !ok || string(got) != "from-disk" {
		t.Error("memory copy should outlive the disk entry")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.CacheConfig
		want string
	}{
		{"disabled", model.CacheConfig{Enabled: false, DiskDir: "x"}, "nop"},
		{"memory only", model.CacheConfig{Enabled: true}, "memory"},
		{"layered", model.CacheConfig{Enabled: true, DiskDir: "x"}, "layered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch Open(tt.cfg).(type) {
			case Nop:
				got = "nop"
			case *Memory:
				got = "memory"
			case *Layered:
				got = "layered"
			}
			if got != tt.want {
				t.Errorf("Open = %s, want %s", got, tt.want)
			}
		})
	}
}
