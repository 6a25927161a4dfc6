// Package cache keeps file content fetched at a revision. A revision is
// immutable, so entries are never invalidated, only aged out.
package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ppiankov/traceguard/internal/model"
)

// Cache holds content by key
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// ContentKey is the key of a file at a revision of a repository
func ContentKey(repo, rev, path string) string {
	sum := sha256.Sum256([]byte("blob/v1\x00" + repo + "\x00" + rev + "\x00" + path))
	return hex.EncodeToString(sum[:])
}

// Open builds the cache described by cfg. A disabled cache stores nothing;
// without a directory content is only kept in memory.
func Open(cfg model.CacheConfig) Cache {
	switch {
	case !cfg.Enabled:
		return Nop{}
	case cfg.DiskDir == "":
		return NewMemory(cfg.MemoryTTL)
	default:
		return &Layered{front: NewMemory(cfg.MemoryTTL), back: NewDisk(cfg.DiskDir, cfg.DiskTTL)}
	}
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(string) ([]byte, bool) { return nil, false }
func (Nop) Put(string, []byte) error  { return nil }
