// Package webhooks pushes attendance outcomes to external HR and payroll
// systems. Subscriptions name the outcome types they want; deliveries are
// signed, retried, and disabled after sustained failure rather than left
// hammering a dead endpoint.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shiftgate/kiosk/internal/events"
)

// EventType names one outcome stream a subscription can follow. The values
// are the outcome bus types, so a webhook sees exactly what a presenter
// sees.
type EventType string

const (
	EventAttendanceCommitted EventType = events.TypeAttendanceCommitted
	EventAttendanceRejected  EventType = events.TypeAttendanceRejected
	EventAttendanceAborted   EventType = events.TypeAttendanceAborted
	EventLocationRequested   EventType = events.TypeLocationRequested
	EventGroupAdmitted       EventType = events.TypeGroupAdmitted
	EventGroupRejected       EventType = events.TypeGroupRejected
	EventGroupCommitResult   EventType = events.TypeGroupCommitResult
	EventRecognitionTrace    EventType = events.TypeRecognitionTrace
)

var knownEvents = map[EventType]bool{
	EventAttendanceCommitted: true,
	EventAttendanceRejected:  true,
	EventAttendanceAborted:   true,
	EventLocationRequested:   true,
	EventGroupAdmitted:       true,
	EventGroupRejected:       true,
	EventGroupCommitResult:   true,
	EventRecognitionTrace:    true,
}

// disableAfter is the failure streak that deactivates a subscription.
const disableAfter = 10

// Subscription is one registered webhook endpoint.
type Subscription struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	FailCount   int         `json:"fail_count"`
}

// Delivery is the payload POSTed to subscribers.
type Delivery struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Subject   string                 `json:"subject,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// Registry stores webhook subscriptions and indexes them by event type.
type Registry struct {
	mu          sync.RWMutex
	hooks       map[string]*Subscription
	byEvent     map[EventType][]*Subscription
	logger      *log.Logger
	maxPerEvent int
}

func NewRegistry() *Registry {
	return &Registry{
		hooks:       make(map[string]*Subscription),
		byEvent:     make(map[EventType][]*Subscription),
		logger:      log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
		maxPerEvent: 50,
	}
}

// Register adds a subscription after validating it.
func (r *Registry) Register(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, evt := range sub.Events {
		if !knownEvents[evt] {
			return fmt.Errorf("unknown event type %q", evt)
		}
		if len(r.byEvent[evt]) >= r.maxPerEvent {
			return fmt.Errorf("too many subscriptions for %s", evt)
		}
	}

	if sub.ID == "" {
		sub.ID = fmt.Sprintf("wh-%d", time.Now().UnixNano())
	}
	sub.Active = true
	sub.CreatedAt = time.Now()
	sub.FailCount = 0

	r.hooks[sub.ID] = sub
	for _, evt := range sub.Events {
		r.byEvent[evt] = append(r.byEvent[evt], sub)
	}

	r.logger.Printf("📡 Registered webhook %s → %s (events: %v)", sub.ID, sub.URL, sub.Events)
	return nil
}

// Unregister removes a subscription.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(r.hooks, id)

	for _, evt := range sub.Events {
		filtered := make([]*Subscription, 0, len(r.byEvent[evt]))
		for _, s := range r.byEvent[evt] {
			if s.ID != id {
				filtered = append(filtered, s)
			}
		}
		r.byEvent[evt] = filtered
	}

	r.logger.Printf("🗑️  Unregistered webhook %s", id)
	return nil
}

// Get returns one subscription by id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.hooks[id]
	return sub, ok
}

// Subscribers returns the active subscriptions for an event type.
func (r *Registry) Subscribers(eventType EventType) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Subscription
	for _, sub := range r.byEvent[eventType] {
		if sub.Active {
			active = append(active, sub)
		}
	}
	return active
}

// ListAll returns every registered subscription.
func (r *Registry) ListAll() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0, len(r.hooks))
	for _, sub := range r.hooks {
		result = append(result, sub)
	}
	return result
}

// MarkFailed counts one failed delivery and disables the subscription once
// the streak reaches disableAfter.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= disableAfter {
		sub.Active = false
		r.logger.Printf("⚠️  Webhook %s disabled after %d failures", id, sub.FailCount)
	}
}

// MarkDelivered resets the failure streak after a successful delivery.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload creates the HMAC-SHA256 signature receivers verify.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
