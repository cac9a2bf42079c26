package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types emitted on the outcome bus.
const (
	TypeAttendanceCommitted = "attendance.committed"
	TypeAttendanceRejected  = "attendance.rejected"
	TypeAttendanceAborted   = "attendance.aborted"
	TypeLocationRequested   = "location.requested"
	TypeGroupAdmitted       = "group.admitted"
	TypeGroupRejected       = "group.rejected"
	TypeGroupCommitResult   = "group.commit_result"
	TypeRecognitionTrace    = "recognition.trace"
)

// EventEmitter is the interface for publishing CloudEvents.
// Both the in-memory EventBus and PubSubEventBus satisfy this interface.
type EventEmitter interface {
	Emit(eventType, source, subject string, data map[string]interface{})
}

// CloudEvent is the CloudEvents 1.0 envelope for all kiosk outcomes.
// Compatible with CNCF CloudEvents specification.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent creates a CloudEvents 1.0 compliant event. Subject carries
// the subject id so consumers can partition per person.
func NewCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          uuid.NewString(),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON renders the envelope for webhook bodies and stream frames.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat renders the envelope as one Server-Sent Events frame, with the
// event type and id fields set so EventSource clients can resume.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

// EventBus fans kiosk outcomes out to in-process subscribers. Delivery never
// blocks: a subscriber that stops draining loses events while the engine
// keeps committing, and every loss is counted.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[string][]chan *CloudEvent
	catchAll []chan *CloudEvent

	logger     *log.Logger
	bufferSize int
	dropped    atomic.Uint64
}

// NewEventBus returns a bus with room for 100 undrained events per
// subscriber.
func NewEventBus() *EventBus {
	return &EventBus{
		byType:     make(map[string][]chan *CloudEvent),
		logger:     log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize: 100,
	}
}

// Subscribe registers a channel for the named event types, or for every
// event when called with none. The channel stays open until Unsubscribe.
func (b *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *CloudEvent, b.bufferSize)
	if len(eventTypes) == 0 {
		b.catchAll = append(b.catchAll, ch)
	} else {
		for _, et := range eventTypes {
			b.byType[et] = append(b.byType[et], ch)
		}
	}

	b.logger.Printf("👥 Subscriber added (%d active)", b.countLocked())
	return ch
}

// Unsubscribe detaches ch from every registration and closes it, which ends
// the subscriber's range loop.
func (b *EventBus) Unsubscribe(ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.byType {
		b.byType[et] = without(subs, ch)
	}
	b.catchAll = without(b.catchAll, ch)

	close(ch)
	b.logger.Printf("👥 Subscriber removed (%d active)", b.countLocked())
}

// without compacts subs in place, dropping ch. Safe under the write lock;
// readers only iterate while holding the read lock.
func without(subs []chan *CloudEvent, ch chan *CloudEvent) []chan *CloudEvent {
	kept := subs[:0]
	for _, s := range subs {
		if s != ch {
			kept = append(kept, s)
		}
	}
	return kept
}

// Publish offers the event to every matching subscriber without blocking.
func (b *EventBus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.byType[event.Type], event)
	b.deliver(b.catchAll, event)
}

func (b *EventBus) deliver(subs []chan *CloudEvent, event *CloudEvent) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Full buffer: the subscriber lags, the engine does not wait.
			b.dropped.Add(1)
		}
	}
}

// Emit wraps the payload in a fresh envelope and publishes it.
func (b *EventBus) Emit(eventType, source, subject string, data map[string]interface{}) {
	b.Publish(NewCloudEvent(eventType, source, subject, data))
}

// Dropped reports how many deliveries were skipped on full buffers.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the total number of active subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.countLocked()
}

func (b *EventBus) countLocked() int {
	count := len(b.catchAll)
	for _, subs := range b.byType {
		count += len(subs)
	}
	return count
}
