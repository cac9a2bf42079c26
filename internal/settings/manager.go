package settings

import "sync"

// Manager hands out the current Shift snapshot. Swaps replace the whole
// value; there is no per-field merging.
type Manager struct {
	mu      sync.RWMutex
	current Shift
}

func NewManager(initial Shift) *Manager {
	return &Manager{current: initial}
}

// Current returns a copy of the live snapshot.
func (m *Manager) Current() Shift {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Swap installs next and reports whether it differed from the previous
// snapshot.
func (m *Manager) Swap(next Shift) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == next {
		return false
	}
	m.current = next
	return true
}
