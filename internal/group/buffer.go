// Package group holds the buffered group-checkout state: admissions made at
// the kiosk while a supervisor gathers a crew, committed in one pass once a
// shared destination is picked.
package group

import (
	"sync"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
)

// Entry is one admitted subject awaiting the group commit. Method is how
// the admission identified itself; the commit stamps it on the record.
type Entry struct {
	SubjectID  string      `json:"subject_id"`
	Name       string      `json:"name"`
	Method     core.Method `json:"method"`
	AdmittedAt time.Time   `json:"admitted_at"`
}

// Failure reports one subject the commit pass could not check out.
type Failure struct {
	SubjectID string          `json:"subject_id"`
	Code      core.RejectCode `json:"code"`
}

// CommitResult summarises one group commit pass.
type CommitResult struct {
	Committed []string  `json:"committed"`
	Failed    []Failure `json:"failed"`
}

// Buffer preserves admission order and rejects duplicates. All methods are
// safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

func NewBuffer() *Buffer { return &Buffer{} }

// Add admits a subject. Returns false when the subject is already buffered.
func (b *Buffer) Add(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, have := range b.entries {
		if have.SubjectID == e.SubjectID {
			return false
		}
	}
	b.entries = append(b.entries, e)
	return true
}

func (b *Buffer) Contains(subjectID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, have := range b.entries {
		if have.SubjectID == subjectID {
			return true
		}
	}
	return false
}

// Snapshot returns the entries in admission order.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Remove drops the given subjects, keeping the order of the rest.
func (b *Buffer) Remove(subjectIDs ...string) {
	drop := make(map[string]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		drop[id] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if !drop[e.SubjectID] {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// Clear empties the buffer and returns what was in it.
func (b *Buffer) Clear() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
