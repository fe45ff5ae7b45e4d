package volume

import "sync"

// Locks hands out one mutex per device path. Controllers sharing a Locks
// never run two lifecycle operations on the same device at once.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// DefaultLocks is shared by controllers created without WithLocks.
var DefaultLocks = NewLocks()

// NewLocks returns an empty registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// For returns the mutex for device, creating it on first use.
func (l *Locks) For(device string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[device]
	if !ok {
		m = &sync.Mutex{}
		l.locks[device] = m
	}
	return m
}
