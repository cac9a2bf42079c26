// Package circuitbreaker fails fast when a guarded dependency goes dark. The
// kiosk wraps its embedder-sidecar calls in a breaker so a dead recognizer
// costs one rejected frame instead of a stalled scan loop.
//
// The breaker walks the usual three states: closed passes everything through
// and tallies outcomes, open rejects everything until Timeout elapses, and
// half-open admits up to MaxRequests probes, closing again once that many
// succeed in a row.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Rejections returned without invoking the wrapped call.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Counts is a snapshot of the current tally window. Windows reset on every
// state change and, while closed, every Interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRatio is TotalFailures over Requests, zero for an empty window.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

// absorb folds one outcome into the tally. Requests is charged at admission,
// not here, so the ratio stays requests-accurate under concurrency.
func (c *Counts) absorb(ok bool) {
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Config tunes one breaker.
type Config struct {
	Name string

	// MaxRequests caps in-flight probes while half-open; that many
	// consecutive successes close the breaker again.
	MaxRequests uint32

	// Interval resets the closed-state tally window. Zero keeps a single
	// window for the life of the state.
	Interval time.Duration

	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration

	// ReadyToTrip inspects the tally after every closed-state failure and
	// trips the breaker when it returns true.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange observes transitions, typically for logging.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig trips once a window of at least five requests goes majority
// failure, probes three at a time, and logs every transition.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 5 && c.FailureRatio() > 0.5
		},
		OnStateChange: logTransition,
	}
}

// ForRecognizer returns the breaker guarding the embedder sidecar. Three
// consecutive failures open it; probes resume after 15s. Callers map
// ErrCircuitOpen to an unknown-subject verdict, never to a user error.
func ForRecognizer() *CircuitBreaker {
	return New(&Config{
		Name:        "recognizer",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: logTransition,
	})
}

func logTransition(name string, from, to State) {
	log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
}

// CircuitBreaker serializes admission and outcome accounting for one guarded
// dependency. All methods are safe for concurrent use.
type CircuitBreaker struct {
	cfg *Config

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every window reset; stale outcomes are dropped
	tally    Counts
	deadline time.Time // next timer transition, zero when none is armed
}

// New builds a breaker from cfg, falling back to DefaultConfig when nil.
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name identifies the breaker in logs.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// State reports the position after applying any due timer transitions.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s, _ := cb.advance(time.Now())
	return s
}

// Counts snapshots the current tally window.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tally
}

// Execute runs req if the breaker admits it and folds the outcome into the
// tally. A panic inside req counts as a failure before propagating.
func (cb *CircuitBreaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	return cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
		return req()
	})
}

// ExecuteContext is Execute for context-aware calls. The context passes
// through untouched; a cancellation surfacing from req counts as a failure
// like any other error.
func (cb *CircuitBreaker) ExecuteContext(
	ctx context.Context,
	req func(context.Context) (interface{}, error),
) (interface{}, error) {
	epoch, err := cb.admit()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()

	out, err := req(ctx)
	cb.settle(epoch, err == nil)
	return out, err
}

// admit decides whether a request may proceed and, if so, charges it to the
// current window. The returned epoch ties the eventual outcome back to the
// window that admitted it.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, epoch := cb.advance(now)

	switch {
	case state == StateOpen:
		return epoch, ErrCircuitOpen
	case state == StateHalfOpen && cb.tally.Requests >= cb.cfg.MaxRequests:
		return epoch, ErrTooManyRequests
	}

	cb.tally.Requests++
	return epoch, nil
}

// settle records an outcome against the window that admitted it. Outcomes
// landing after a window reset are dropped: an old failure must not trip a
// breaker that has since recovered.
func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if epoch != current {
		return
	}

	cb.tally.absorb(ok)

	switch state {
	case StateClosed:
		if !ok && cb.cfg.ReadyToTrip(cb.tally) {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		if !ok {
			cb.transition(StateOpen, now)
		} else if cb.tally.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.transition(StateClosed, now)
		}
	}
}

// advance applies timer transitions due at now and reports the resulting
// state and epoch. Callers must hold mu.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && now.After(cb.deadline) {
			cb.resetWindow(now)
		}
	case StateOpen:
		if now.After(cb.deadline) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.epoch
}

// transition moves to next, opens a fresh window, and fires OnStateChange.
func (cb *CircuitBreaker) transition(next State, now time.Time) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.resetWindow(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, next)
	}
}

// resetWindow clears the tally and arms the next deadline: Timeout while
// open, Interval while closed, none while half-open.
func (cb *CircuitBreaker) resetWindow(now time.Time) {
	cb.epoch++
	cb.tally = Counts{}

	switch {
	case cb.state == StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	case cb.state == StateClosed && cb.cfg.Interval > 0:
		cb.deadline = now.Add(cb.cfg.Interval)
	default:
		cb.deadline = time.Time{}
	}
}

// String implements fmt.Stringer for log lines.
func (cb *CircuitBreaker) String() string {
	c := cb.Counts()
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, requests=%d, failures=%d]",
		cb.cfg.Name, cb.State(), c.Requests, c.TotalFailures)
}
