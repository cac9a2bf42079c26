package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudDispatcher hands deliveries to Google Cloud Tasks for durable,
// at-least-once webhook delivery. The queue owns retry backoff, dead
// lettering and rate limits; the kiosk only enqueues.
//
// When enqueueing itself fails, the job drops to the in-memory Dispatcher,
// so a Cloud Tasks outage degrades to best-effort rather than silence.
type CloudDispatcher struct {
	registry  *Registry
	client    *cloudtasks.Client
	queuePath string
	source    string
	logger    *log.Logger
	fallback  *Dispatcher
}

// NewCloudDispatcher connects to the Cloud Tasks queue identified by
// projectID/locationID/queueID. fallback may be nil.
func NewCloudDispatcher(registry *Registry, projectID, locationID, queueID, source string, fallback *Dispatcher) (*CloudDispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	cd := &CloudDispatcher{
		registry:  registry,
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		source:    source,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
		fallback:  fallback,
	}
	cd.logger.Printf("✅ Connected to Cloud Tasks queue: %s", cd.queuePath)
	return cd, nil
}

// Emit creates one HTTP task per matching subscription.
func (cd *CloudDispatcher) Emit(eventType EventType, subject string, data map[string]interface{}) {
	subscribers := cd.registry.Subscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	event := newDelivery(eventType, cd.source, subject, data)
	payload, err := json.Marshal(event)
	if err != nil {
		cd.logger.Printf("❌ Failed to marshal webhook event: %v", err)
		return
	}

	for _, sub := range subscribers {
		// Enqueue off the hot path: the engine loop never waits on GCP.
		go cd.submit(sub, event, payload)
	}
}

// submit enqueues one task. On failure only the failing subscription falls
// back to in-memory delivery; the others keep their durable copy.
func (cd *CloudDispatcher) submit(sub *Subscription, event *Delivery, payload []byte) {
	task := &taskspb.Task{
		MessageType: &taskspb.Task_HttpRequest{
			HttpRequest: &taskspb.HttpRequest{
				HttpMethod: taskspb.HttpMethod_POST,
				Url:        sub.URL,
				Headers:    deliveryHeaders(event, sub.Secret, 1, payload),
				Body:       payload,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := cd.client.CreateTask(ctx, &taskspb.CreateTaskRequest{Parent: cd.queuePath, Task: task})
	if err != nil {
		cd.logger.Printf("❌ Cloud Task enqueue failed: %s → %s: %v", event.ID, sub.URL, err)
		if cd.fallback != nil {
			cd.logger.Printf("↩️  Falling back to in-memory delivery for %s", event.ID)
			cd.fallback.enqueue(&deliveryJob{subscriber: sub, event: event, attempt: 1})
		}
		return
	}
	cd.logger.Printf("📤 Enqueued Cloud Task: %s → %s (task=%s)", event.ID, sub.URL, created.GetName())
}

// Shutdown closes the Cloud Tasks client and the fallback pool.
func (cd *CloudDispatcher) Shutdown() {
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		cd.logger.Printf("⚠️ Cloud Tasks client close error: %v", err)
	}
	cd.logger.Printf("🔌 Cloud Tasks dispatcher closed")
}

var _ Emitter = (*Dispatcher)(nil)
var _ Emitter = (*CloudDispatcher)(nil)
