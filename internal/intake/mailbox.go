package intake

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is the capacity-1 hand-off between the detector stream and the
// engine loop. A new frame replaces an unconsumed one: the engine always
// works on the most recent sighting and stale frames are counted, never
// queued. Single consumer.
type Mailbox struct {
	mu     sync.Mutex
	slot   Detection
	full   bool
	closed bool

	notify  chan struct{}
	dropped atomic.Uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Post offers a detection. Never blocks; replaces any unconsumed frame.
func (m *Mailbox) Post(d Detection) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.full {
		m.dropped.Add(1)
	}
	m.slot, m.full = d, true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Receive blocks until a detection arrives, the context ends, or the
// mailbox closes. The bool is false only for the latter two.
func (m *Mailbox) Receive(ctx context.Context) (Detection, bool) {
	for {
		m.mu.Lock()
		if m.full {
			d := m.slot
			m.full = false
			m.mu.Unlock()
			return d, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Detection{}, false
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return Detection{}, false
		}
	}
}

// Close wakes the receiver; a frame already posted is still delivered.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Dropped reports how many frames were replaced before being consumed.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
