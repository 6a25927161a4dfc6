package cache

// Layered fronts a disk cache with memory. Disk hits are promoted.
type Layered struct {
	front *Memory
	back  *Disk
}

func (l *Layered) Get(key string) ([]byte, bool) {
	if v, ok := l.front.Get(key); ok {
		return v, true
	}
	v, ok := l.back.Get(key)
	if ok {
		_ = l.front.Put(key, v)
	}
	return v, ok
}

// Put writes to disk first; the memory copy is kept even if disk fails
func (l *Layered) Put(key string, value []byte) error {
	err := l.back.Put(key, value)
	_ = l.front.Put(key, value)
	return err
}
