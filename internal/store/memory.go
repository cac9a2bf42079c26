package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
)

// MemoryStore is the in-memory RecordStore used by single-station
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []core.AttendanceRecord
	patched map[int64]bool

	// failAppends injects transient errors for the next N appends.
	failAppends int
	failErr     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, patched: make(map[int64]bool)}
}

// FailAppends makes the next n Append calls fail with a transient err.
// Test hook.
func (m *MemoryStore) FailAppends(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppends = n
	m.failErr = err
}

func (m *MemoryStore) Append(ctx context.Context, rec core.AttendanceRecord) (core.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppends > 0 {
		m.failAppends--
		return core.AttendanceRecord{}, Transient(m.failErr)
	}

	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryStore) Patch(ctx context.Context, id int64, p Patch) (core.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return core.AttendanceRecord{}, ErrNotFound
	}
	if m.patched[id] {
		return core.AttendanceRecord{}, ErrAlreadyPatched
	}
	target := m.records[idx]
	for _, r := range m.records {
		if r.ID > id && r.SubjectID == target.SubjectID && core.SameDay(target.Timestamp, r.Timestamp) {
			return core.AttendanceRecord{}, ErrAlreadyPatched
		}
	}

	if p.Location != nil {
		loc := *p.Location
		m.records[idx].Location = &loc
	}
	if p.Emergency != nil {
		em := *p.Emergency
		m.records[idx].Emergency = &em
	}
	m.patched[id] = true
	return m.records[idx], nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	m.records = append(m.records[:idx], m.records[idx+1:]...)
	delete(m.patched, id)
	return nil
}

func (m *MemoryStore) ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]core.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.AttendanceRecord
	for _, r := range m.records {
		if r.SubjectID == subjectID && core.SameDay(day, r.Timestamp) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) ListOn(ctx context.Context, day time.Time) ([]core.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.AttendanceRecord
	for _, r := range m.records {
		if core.SameDay(day, r.Timestamp) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) indexOf(id int64) int {
	for i, r := range m.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func sortRecords(recs []core.AttendanceRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}

var _ RecordStore = (*MemoryStore)(nil)
