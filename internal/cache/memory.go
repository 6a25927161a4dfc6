package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local cache whose entries live for a fixed time
// after they were last written
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates a memory cache. A non-positive ttl keeps entries
// for the life of the process.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		return &Memory{items: gocache.New(gocache.NoExpiration, 0)}
	}
	sweep := ttl
	if sweep < time.Minute {
		sweep = time.Minute
	}
	return &Memory{items: gocache.New(ttl, sweep)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *Memory) Put(key string, value []byte) error {
	m.items.SetDefault(key, value)
	return nil
}

// Len is the number of entries, including expired ones not yet swept
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
