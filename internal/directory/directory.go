// Package directory resolves enrolled subjects by id and serves the face
// template gallery to the recognizer sync.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shiftgate/kiosk/internal/core"
)

// ErrNotFound is returned when no active subject matches the id.
var ErrNotFound = errors.New("subject not found")

// Directory resolves subjects. The kiosk wires one of Memory (single
// station, tests), Supabase (fleet) or Cached wrapping either.
type Directory interface {
	// Lookup returns the subject with the given id, or ErrNotFound.
	Lookup(ctx context.Context, id string) (*core.Subject, error)
	// AllWithEmbeddings returns every active subject carrying at least one
	// face template. The recognizer gallery sync pushes these to the sidecar.
	AllWithEmbeddings(ctx context.Context) ([]core.Subject, error)
}

// Memory is an in-process Directory seeded from config or tests.
type Memory struct {
	mu       sync.RWMutex
	subjects map[string]core.Subject
}

func NewMemory(subjects ...core.Subject) *Memory {
	m := &Memory{subjects: make(map[string]core.Subject, len(subjects))}
	for _, s := range subjects {
		m.subjects[s.ID] = s
	}
	return m
}

// Put inserts or replaces a subject.
func (m *Memory) Put(s core.Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
}

func (m *Memory) Lookup(ctx context.Context, id string) (*core.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *Memory) AllWithEmbeddings(ctx context.Context) ([]core.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Subject
	for _, s := range m.subjects {
		if len(s.Embeddings) > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Directory = (*Memory)(nil)
