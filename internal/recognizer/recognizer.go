// Package recognizer bridges warmed-up sightings to the embedder sidecar.
// Recognition trouble of any kind degrades to an unknown match; it is never
// an attendance failure.
package recognizer

import (
	"context"
	"sync"

	"github.com/shiftgate/kiosk/pb"
)

// Match is the identification verdict for one sighting. An empty SubjectID
// means unknown.
type Match struct {
	SubjectID  string
	Confidence float64
}

func (m Match) Known() bool { return m.SubjectID != "" }

// Identifier resolves a face sighting to a subject.
type Identifier interface {
	Identify(ctx context.Context, frameRef string, box pb.BoundingBox) Match
}

// Static maps frame refs straight to matches. Test double.
type Static struct {
	mu      sync.Mutex
	matches map[string]Match
}

func NewStatic() *Static {
	return &Static{matches: make(map[string]Match)}
}

// Learn registers the match returned for a frame ref.
func (s *Static) Learn(frameRef string, m Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[frameRef] = m
}

func (s *Static) Identify(ctx context.Context, frameRef string, box pb.BoundingBox) Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches[frameRef]
}

var _ Identifier = (*Static)(nil)
