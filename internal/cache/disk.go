package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Disk keeps raw content in files sharded by the first two characters
// of the key. An entry expires ttl after its last write or read.
type Disk struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDisk creates a disk cache under dir. A non-positive ttl never expires.
func NewDisk(dir string, ttl time.Duration) *Disk {
	return &Disk{dir: dir, ttl: ttl, now: time.Now}
}

func (d *Disk) Get(key string) ([]byte, bool) {
	p := d.file(key)
	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if d.expired(info.ModTime()) {
		_ = os.Remove(p)
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	now := d.now()
	_ = os.Chtimes(p, now, now)
	return data, true
}

// Put writes value under a temporary name and renames it into place, so
// a concurrent reader sees either nothing or the whole file
func (d *Disk) Put(key string, value []byte) error {
	p := d.file(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	_, werr := tmp.Write(value)
	cerr := tmp.Close()
	if err := firstErr(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

// Prune removes expired entries and returns how many were removed
func (d *Disk) Prune() (int, error) {
	removed := 0
	err := filepath.WalkDir(d.dir, func(p string, e os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if e.IsDir() {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return nil
		}
		if d.expired(info.ModTime()) {
			if os.Remove(p) == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func (d *Disk) Clear() error {
	return os.RemoveAll(d.dir)
}

func (d *Disk) expired(written time.Time) bool {
	return d.ttl > 0 && d.now().Sub(written) > d.ttl
}

func (d *Disk) file(key string) string {
	key = filepath.Base(key)
	shard := "__"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(d.dir, shard, key)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
