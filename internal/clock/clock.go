// Package clock abstracts wall-clock access so shift decisions can be
// driven by a fixed or scripted time in tests and drills.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to every component that reasons about
// shift windows.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the real wall clock.
func System() Clock { return systemClock{} }

// Manual is a Clock whose time is set explicitly. When no override is set
// it falls through to the real clock, so a kiosk can be switched into a
// drill and back without restarting.
type Manual struct {
	mu       sync.RWMutex
	override time.Time
	set      bool
}

// NewManual returns a Manual clock with no override.
func NewManual() *Manual { return &Manual{} }

// Now returns the override when set, the system time otherwise.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.set {
		return m.override
	}
	return time.Now()
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.override = t
	m.set = true
	m.mu.Unlock()
}

// Advance moves a pinned clock forward by d. No-op when no override is set.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	if m.set {
		m.override = m.override.Add(d)
	}
	m.mu.Unlock()
}

// Clear removes the override.
func (m *Manual) Clear() {
	m.mu.Lock()
	m.set = false
	m.mu.Unlock()
}

// Overridden reports whether an override is active.
func (m *Manual) Overridden() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set
}
