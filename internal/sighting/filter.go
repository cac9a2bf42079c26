// Package sighting filters raw face detections before they are allowed
// to cost a recognition call. Two independent brakes: a per-track warm-up
// (the face must hold still with solid confidence for a run of frames)
// and a global cooldown (one recognition per window, whoever it was).
package sighting

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Grid cell edge in pixels. Centres within the same 50px cell share a
// track, which absorbs small head motion without an appearance tracker.
const gridCell = 50

// Confidence floors for the warm-up window.
const (
	minConfidenceFloor  = 0.5
	meanConfidenceFloor = 0.7
)

// pruneRunsPerWarmup controls track garbage collection: a track unseen
// for this many warm-up spans is dropped.
const pruneRunsPerWarmup = 5

// Observation is one detector output.
type Observation struct {
	Frame      uint64  `json:"frame"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

func (o Observation) centre() (float64, float64) {
	return o.X + o.W/2, o.Y + o.H/2
}

// Config is the live tuning snapshot the filter runs under. Callers pass
// it per observation so a settings refresh applies between frames.
type Config struct {
	Enabled            bool
	Frames             int
	StabilityThreshold float64
	Cooldown           time.Duration
}

// Phase is the filter's verdict for one observation.
type Phase string

const (
	PhaseWarming  Phase = "warming"
	PhaseReady    Phase = "ready"
	PhaseCooldown Phase = "cooldown"
)

// Verdict reports what happened to one observation. Progress/Needed feed
// UI progress bars; only PhaseReady escalates to recognition.
type Verdict struct {
	Phase    Phase  `json:"phase"`
	TrackKey string `json:"track_key"`
	Progress int    `json:"progress_frames"`
	Needed   int    `json:"needed_frames"`
}

type entry struct {
	frame      uint64
	cx, cy     float64
	maxDim     float64
	confidence float64
}

type track struct {
	entries  []entry
	lastSeen uint64
	run      int // current consecutive-frame run
	bestRun  int // longest run ever; warm-up is satisfied once, not per run
}

// Filter holds the in-memory sighting tracks. Tracks never persist; a
// restart starts cold.
type Filter struct {
	mu        sync.Mutex
	tracks    map[string]*track
	lastReady time.Time
	haveReady bool
}

func New() *Filter {
	return &Filter{tracks: make(map[string]*track)}
}

// Observe classifies one detection. The cooldown gate runs first:
// suppressed observations never touch a track.
func (f *Filter) Observe(o Observation, now time.Time, cfg Config) Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := trackKey(o)

	if f.haveReady && now.Sub(f.lastReady) < cfg.Cooldown {
		return Verdict{Phase: PhaseCooldown, TrackKey: key, Needed: cfg.Frames}
	}

	if !cfg.Enabled {
		f.lastReady = now
		f.haveReady = true
		return Verdict{Phase: PhaseReady, TrackKey: key}
	}

	tr, ok := f.tracks[key]
	if !ok {
		tr = &track{}
		f.tracks[key] = tr
	}
	tr.append(o, cfg.Frames)

	progress := tr.bestRun
	if progress > cfg.Frames {
		progress = cfg.Frames
	}
	verdict := Verdict{Phase: PhaseWarming, TrackKey: key, Progress: progress, Needed: cfg.Frames}

	if tr.bestRun >= cfg.Frames && tr.stable(cfg) {
		f.lastReady = now
		f.haveReady = true
		f.prune(o.Frame, cfg.Frames)
		verdict.Phase = PhaseReady
	}
	return verdict
}

// TrackCount reports live tracks, for health output.
func (f *Filter) TrackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func (t *track) append(o Observation, warmupFrames int) {
	cx, cy := o.centre()
	if len(t.entries) > 0 && o.Frame == t.lastSeen+1 {
		t.run++
	} else {
		t.run = 1
	}
	if t.run > t.bestRun {
		t.bestRun = t.run
	}
	t.lastSeen = o.Frame
	t.entries = append(t.entries, entry{
		frame:      o.Frame,
		cx:         cx,
		cy:         cy,
		maxDim:     math.Max(o.W, o.H),
		confidence: o.Confidence,
	})
	if max := 2 * warmupFrames; len(t.entries) > max {
		t.entries = t.entries[len(t.entries)-max:]
	}
}

// stable evaluates both warm-up predicates over the last cfg.Frames
// entries: bounded drift from the window anchor, and confidence that is
// never poor and mostly strong.
func (t *track) stable(cfg Config) bool {
	if len(t.entries) < cfg.Frames {
		return false
	}
	window := t.entries[len(t.entries)-cfg.Frames:]
	anchor := window[0]

	min, sum := window[0].confidence, 0.0
	for i, e := range window {
		if i > 0 {
			if e.maxDim <= 0 {
				return false
			}
			dist := math.Hypot(e.cx-anchor.cx, e.cy-anchor.cy)
			if dist/e.maxDim > cfg.StabilityThreshold {
				return false
			}
		}
		if e.confidence < min {
			min = e.confidence
		}
		sum += e.confidence
	}
	mean := sum / float64(len(window))
	return min > minConfidenceFloor && mean > meanConfidenceFloor
}

func (f *Filter) prune(frame uint64, warmupFrames int) {
	horizon := uint64(pruneRunsPerWarmup * warmupFrames)
	if frame <= horizon {
		return
	}
	floor := frame - horizon
	for key, tr := range f.tracks {
		if tr.lastSeen < floor {
			delete(f.tracks, key)
		}
	}
}

func trackKey(o Observation) string {
	cx, cy := o.centre()
	return fmt.Sprintf("%d,%d", int(math.Floor(cx/gridCell)), int(math.Floor(cy/gridCell)))
}
