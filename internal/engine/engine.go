// Package engine is the kiosk's attendance brain: one event loop that turns
// identity events into attendance records. Detector sightings, badge scans
// and kiosk taps all funnel into the same loop, so policy decisions and
// store writes are strictly serialized. Everything slow — recognition, the
// location picker, the store — either runs off-loop and comes back as a
// message, or is a store call the loop performs while holding no locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/shiftgate/kiosk/internal/clock"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/group"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/monitoring"
	"github.com/shiftgate/kiosk/internal/recognizer"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/sighting"
	"github.com/shiftgate/kiosk/internal/store"
)

var (
	// ErrStopped means the engine loop is not running.
	ErrStopped = errors.New("engine: not running")
	// ErrUnknownRequest means the location request id is not parked.
	ErrUnknownRequest = errors.New("engine: unknown location request")
	// ErrGroupModeOff rejects group operations outside a group session.
	ErrGroupModeOff = errors.New("engine: group mode is off")
)

// commitRetryDelay is the pause before the single retry of a transient
// store failure.
const commitRetryDelay = 500 * time.Millisecond

// Config wires the engine's collaborators. Identifier and Mailbox may be
// nil on stations without a camera; Metrics may be nil in tests.
type Config struct {
	StationID  string
	Clock      clock.Clock
	Directory  directory.Directory
	Store      store.RecordStore
	Settings   *settings.Manager
	Identifier recognizer.Identifier
	Mailbox    *intake.Mailbox
	Events     events.EventEmitter
	Metrics    *monitoring.Metrics
}

// Engine owns all mutable attendance state for one station.
type Engine struct {
	stationID  string
	source     string
	clock      clock.Clock
	dir        directory.Directory
	store      store.RecordStore
	settings   *settings.Manager
	identifier recognizer.Identifier
	mailbox    *intake.Mailbox
	events     events.EventEmitter
	metrics    *monitoring.Metrics
	logger     *log.Logger

	msgCh      chan *envelope
	identifyCh chan identifyJob
	done       chan struct{}

	filter *sighting.Filter
	buffer *group.Buffer

	// Loop-owned state: only the Run goroutine touches these.
	held       map[string]*heldAction
	lastScan   map[core.Method]time.Time
	groupMode  bool
	committing bool
	queued     []*envelope

	// Mirrors so Health and GroupStatus never have to wait on the loop.
	groupOn     atomic.Bool
	busy        atomic.Bool
	pendingHeld atomic.Int64
	lastFatal   atomic.Value // string

	retryDelay time.Duration
}

// New builds an engine. Run must be called before submissions are accepted.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewEventBus()
	}
	if cfg.StationID == "" {
		cfg.StationID = "kiosk"
	}
	return &Engine{
		stationID:  cfg.StationID,
		source:     "kiosk/" + cfg.StationID,
		clock:      cfg.Clock,
		dir:        cfg.Directory,
		store:      cfg.Store,
		settings:   cfg.Settings,
		identifier: cfg.Identifier,
		mailbox:    cfg.Mailbox,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     log.New(log.Writer(), "[Engine] ", log.LstdFlags),
		msgCh:      make(chan *envelope, 64),
		identifyCh: make(chan identifyJob, 1),
		done:       make(chan struct{}),
		filter:     sighting.New(),
		buffer:     group.NewBuffer(),
		held:       make(map[string]*heldAction),
		lastScan:   make(map[core.Method]time.Time),
		retryDelay: commitRetryDelay,
	}
}

// ===== MESSAGES =====

type msgKind int

const (
	msgSubmit msgKind = iota
	msgDetection
	msgIdentified
	msgResolve
	msgGroupMode
	msgGroupCommit
	msgGroupClear
)

type envelope struct {
	kind       msgKind
	event      intake.IdentityEvent
	detection  intake.Detection
	match      recognizer.Match
	requestID  string
	resolution LocationResult
	enable     bool
	location   *core.Location
	reply      chan reply
}

type reply struct {
	res Result
	err error
}

// respond delivers the verdict. The reply channel is buffered, so a caller
// that gave up waiting never blocks the loop.
func (env *envelope) respond(res Result, err error) {
	if env.reply == nil {
		return
	}
	env.reply <- reply{res: res, err: err}
}

// ===== RUN LOOP =====

// Run serves the engine loop until ctx ends. It owns every piece of
// mutable attendance state; all public methods are messages into it.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Printf("🚀 attendance engine starting station=%s", e.stationID)
	if e.mailbox != nil {
		go e.detectionPump(ctx)
	}
	if e.identifier != nil {
		go e.identifyWorker(ctx)
	}
	defer close(e.done)
	for {
		select {
		case env := <-e.msgCh:
			e.handle(ctx, env)
		case <-ctx.Done():
			e.logger.Printf("🛑 attendance engine stopped: %v", ctx.Err())
			return ctx.Err()
		}
	}
}

func (e *Engine) handle(ctx context.Context, env *envelope) {
	switch env.kind {
	case msgSubmit:
		// handleSubmit responds on its own: queue-mode admissions defer
		// the reply until the group commit finishes.
		e.handleSubmit(ctx, env)
	case msgDetection:
		e.handleDetection(ctx, env.detection)
	case msgIdentified:
		e.handleIdentified(ctx, env.match, env.detection)
	case msgResolve:
		res, err := e.handleResolve(ctx, env.requestID, env.resolution)
		env.respond(res, err)
	case msgGroupMode:
		res, err := e.handleGroupMode(ctx, env.enable)
		env.respond(res, err)
	case msgGroupCommit:
		res, err := e.handleGroupCommit(ctx, env.location)
		env.respond(res, err)
	case msgGroupClear:
		res, err := e.handleGroupClear(ctx)
		env.respond(res, err)
	}
}

// dispatch posts a message to the loop and waits for its reply.
func (e *Engine) dispatch(ctx context.Context, env *envelope) (Result, error) {
	env.reply = make(chan reply, 1)
	select {
	case e.msgCh <- env:
	case <-e.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-env.reply:
		return r.res, r.err
	case <-e.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// post enqueues a fire-and-forget message from a worker goroutine.
func (e *Engine) post(ctx context.Context, env *envelope) {
	select {
	case e.msgCh <- env:
	case <-e.done:
	case <-ctx.Done():
	}
}

// ===== PUBLIC API =====

// Submit runs one identity event through the policy and returns the
// synchronous verdict. Location-gated actions return ResultLocationRequired
// and finish later through ResolveLocation.
func (e *Engine) Submit(ctx context.Context, ev intake.IdentityEvent) (Result, error) {
	return e.dispatch(ctx, &envelope{kind: msgSubmit, event: ev})
}

// ResolveLocation answers a parked location request.
func (e *Engine) ResolveLocation(ctx context.Context, requestID string, res LocationResult) (Result, error) {
	return e.dispatch(ctx, &envelope{kind: msgResolve, requestID: requestID, resolution: res})
}

// SetGroupMode toggles the group checkout session. Disabling discards the
// buffer and cancels a parked group commit.
func (e *Engine) SetGroupMode(ctx context.Context, enable bool) (Result, error) {
	return e.dispatch(ctx, &envelope{kind: msgGroupMode, enable: enable})
}

// CommitGroup checks out every buffered subject to loc. A nil loc parks the
// commit until the picker resolves it.
func (e *Engine) CommitGroup(ctx context.Context, loc *core.Location) (Result, error) {
	return e.dispatch(ctx, &envelope{kind: msgGroupCommit, location: loc})
}

// ClearGroup empties the buffer without writing anything.
func (e *Engine) ClearGroup(ctx context.Context) (Result, error) {
	return e.dispatch(ctx, &envelope{kind: msgGroupClear})
}

// GroupStatus reports the live group session without entering the loop.
func (e *Engine) GroupStatus() GroupStatus {
	return GroupStatus{
		Enabled:    e.groupOn.Load(),
		Committing: e.busy.Load(),
		Entries:    e.buffer.Snapshot(),
	}
}

// Health reports loop-external state for the health endpoint.
func (e *Engine) Health() Health {
	h := Health{
		Station:          e.stationID,
		GroupMode:        e.groupOn.Load(),
		GroupBuffered:    e.buffer.Len(),
		CommitInFlight:   e.busy.Load(),
		PendingLocations: int(e.pendingHeld.Load()),
		SightingTracks:   e.filter.TrackCount(),
	}
	if e.mailbox != nil {
		h.DroppedFrames = e.mailbox.Dropped()
	}
	if s, ok := e.lastFatal.Load().(string); ok {
		h.LastFatal = s
	}
	return h
}

// GroupStatus is the group session snapshot served to operators.
type GroupStatus struct {
	Enabled    bool          `json:"enabled"`
	Committing bool          `json:"committing"`
	Entries    []group.Entry `json:"entries"`
}

// Health is the engine block of the health endpoint.
type Health struct {
	Station          string `json:"station"`
	GroupMode        bool   `json:"group_mode"`
	GroupBuffered    int    `json:"group_buffered"`
	CommitInFlight   bool   `json:"group_commit_in_flight"`
	PendingLocations int    `json:"pending_locations"`
	DroppedFrames    uint64 `json:"dropped_frames"`
	SightingTracks   int    `json:"sighting_tracks"`
	LastFatal        string `json:"last_fatal,omitempty"`
}

// ===== STORE ACCESS =====

// retryTransient runs op, and once more after a pause when the failure is
// worth retrying. Everything else surfaces immediately.
func (e *Engine) retryTransient(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !store.IsTransient(err) {
		return err
	}
	e.metrics.RecordStoreRetry()
	e.logger.Printf("⚠️  transient store failure — retrying once: %v", err)
	select {
	case <-time.After(e.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return op()
}

func (e *Engine) listDay(ctx context.Context, subjectID string, day time.Time) ([]core.AttendanceRecord, error) {
	var recs []core.AttendanceRecord
	err := e.retryTransient(ctx, func() error {
		var lerr error
		recs, lerr = e.store.ListForSubjectOn(ctx, subjectID, day)
		return lerr
	})
	return recs, err
}

func (e *Engine) appendRecord(ctx context.Context, rec core.AttendanceRecord) (core.AttendanceRecord, error) {
	var stored core.AttendanceRecord
	err := e.retryTransient(ctx, func() error {
		var aerr error
		stored, aerr = e.store.Append(ctx, rec)
		return aerr
	})
	return stored, err
}

// Stable infrastructure failure codes for health output. The presenter
// always sees the commit_failed rejection; these identify what broke.
const (
	fatalStoreWrite       = "store_write_failed"
	fatalStoreUnavailable = "store_unavailable"
)

// noteFatal records the last unrecoverable store failure for the health
// endpoint, keyed by its stable code. The engine keeps serving.
func (e *Engine) noteFatal(code string, err error) {
	if err == nil {
		return
	}
	e.lastFatal.Store(fmt.Sprintf("%s: %v at %s", code, err, e.clock.Now().Format(time.RFC3339)))
}
