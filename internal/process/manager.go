package process

import (
	"sync"
	"time"
)

// Handle is what the Manager tracks for each open worksheet: when it last
// showed compute activity, and how to shut its process down.
type Handle interface {
	LastActivity() time.Time
	QuitProcess()
}

// Manager sweeps idle worksheet processes. It is owned by whatever hosts
// multiple worksheets; it only knows about handles explicitly added to it,
// there is no global registry.
type Manager struct {
	mu      sync.Mutex
	handles map[Handle]struct{}
}

// NewManager builds an empty manager.
func NewManager() *Manager {
	return &Manager{handles: make(map[Handle]struct{})}
}

// Add registers a handle for sweeping.
func (m *Manager) Add(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[h] = struct{}{}
}

// Remove stops tracking a handle.
func (m *Manager) Remove(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, h)
}

// Sweep quits the process of every handle idle for longer than timeout and
// returns how many were evicted. Evicted handles stay registered; their
// next enqueue respawns the process transparently.
func (m *Manager) Sweep(timeout time.Duration) int {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	n := 0
	now := time.Now()
	for _, h := range handles {
		if now.Sub(h.LastActivity()) > timeout {
			h.QuitProcess()
			n++
		}
	}
	return n
}
