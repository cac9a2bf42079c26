package events

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubEventBus mirrors every kiosk outcome to a Google Cloud Pub/Sub topic
// while keeping the in-process fan-out alive: the embedded EventBus still
// feeds SSE, the websocket streamer, and the webhook forwarder, while
// Pub/Sub carries the durable at-least-once copy that payroll and HR
// consumers drain.
//
//	bus, err := events.NewPubSubEventBus("my-project", "kiosk-outcomes")
//	bus.Emit(events.TypeAttendanceCommitted, "kiosk/lobby-1", "s-1042", data)
//	defer bus.Close()
type PubSubEventBus struct {
	*EventBus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubEventBus dials Pub/Sub and binds the outcome topic, creating it
// on first boot. Message ordering is enabled so each subject's attendance
// trail replays in commit order.
func NewPubSubEventBus(projectID, topicID string) (*PubSubEventBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic, err := ensureTopic(ctx, client, topicID)
	if err != nil {
		client.Close()
		return nil, err
	}
	topic.EnableMessageOrdering = true

	bus := &PubSubEventBus{
		EventBus: NewEventBus(),
		client:   client,
		topic:    topic,
		logger:   log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}
	bus.logger.Printf("✅ Connected to Pub/Sub topic: projects/%s/topics/%s", projectID, topicID)
	return bus, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if exists {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("CreateTopic: %w", err)
	}
	slog.Info("Created Pub/Sub topic", "topic_id", topicID)
	return topic, nil
}

// Emit builds the CloudEvent once and hands the same instance to both rails.
// In-memory subscribers receive the original Data map, not a decoded copy.
func (pb *PubSubEventBus) Emit(eventType, source, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, source, subject, data)
	pb.forward(event)
	pb.EventBus.Publish(event)
}

// forward hands one event to Pub/Sub without blocking the scan loop: the
// publish result is confirmed on a goroutine and only logged.
func (pb *PubSubEventBus) forward(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		pb.logger.Printf("❌ Failed to marshal event %s: %v", event.ID, err)
		return
	}

	result := pb.topic.Publish(context.Background(), &pubsub.Message{
		Data:        payload,
		Attributes:  ceAttributes(event),
		OrderingKey: event.Subject, // subject-scoped ordering
	})
	go pb.confirm(event, result)
}

func (pb *PubSubEventBus) confirm(event *CloudEvent, result *pubsub.PublishResult) {
	serverID, err := result.Get(context.Background())
	if err != nil {
		// A failed ordered publish wedges its key until resumed; the
		// subject's next outcome should still get a fresh attempt.
		pb.topic.ResumePublish(event.Subject)
		pb.logger.Printf("❌ Pub/Sub publish failed: %s → %v", event.ID, err)
		return
	}
	pb.logger.Printf("📤 Published event %s → msgID=%s (type=%s)", event.ID, serverID, event.Type)
}

// ceAttributes maps the envelope onto message attributes so consumers can
// filter server-side without decoding payloads.
func ceAttributes(event *CloudEvent) map[string]string {
	return map[string]string{
		"ce-specversion": event.SpecVersion,
		"ce-type":        event.Type,
		"ce-source":      event.Source,
		"ce-id":          event.ID,
		"ce-time":        event.Time.Format(time.RFC3339Nano),
		"ce-subject":     event.Subject,
	}
}

// Close stops the topic's publish goroutines, flushing outstanding sends,
// then releases the client.
func (pb *PubSubEventBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	pb.logger.Printf("🔌 Pub/Sub client closed")
	return nil
}

var _ EventEmitter = (*PubSubEventBus)(nil)
