package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shiftgate/kiosk/internal/monitoring"
)

// Emitter dispatches one outcome to every matching subscription. Both the
// in-memory Dispatcher and the Cloud Tasks-backed CloudDispatcher satisfy it.
type Emitter interface {
	Emit(eventType EventType, subject string, data map[string]interface{})
	Shutdown()
}

// maxAttempts bounds delivery retries per job; the registry separately
// disables subscriptions that fail across many events.
const maxAttempts = 3

// newDelivery stamps the payload POSTed to subscribers. Both dispatchers
// build deliveries here so receivers see one schema regardless of transport.
func newDelivery(eventType EventType, source, subject string, data map[string]interface{}) *Delivery {
	return &Delivery{
		ID:        fmt.Sprintf("evt-%d", time.Now().UnixNano()),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Subject:   subject,
		Data:      data,
	}
}

// deliveryHeaders builds the headers attached to every webhook POST,
// in-process and Cloud Tasks alike. The signature covers the exact payload
// bytes being sent.
func deliveryHeaders(event *Delivery, secret string, attempt int, payload []byte) map[string]string {
	h := map[string]string{
		"Content-Type":             "application/json",
		"X-Kiosk-Event-Type":       string(event.Type),
		"X-Kiosk-Event-ID":         event.ID,
		"X-Kiosk-Delivery-Attempt": strconv.Itoa(attempt),
	}
	if secret != "" {
		h["X-Kiosk-Signature"] = "sha256=" + SignPayload(payload, secret)
	}
	return h
}

// Dispatcher delivers webhooks from an in-process worker pool. Deliveries
// are best-effort: a full queue drops, a failed POST retries twice with a
// quadratic backoff, and chronic failures disable the subscription.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	metrics    *monitoring.Metrics
	source     string
	wg         sync.WaitGroup
}

type deliveryJob struct {
	subscriber *Subscription
	event      *Delivery
	attempt    int
}

// NewDispatcher starts a worker pool delivering for registry. source names
// the station in every payload.
func NewDispatcher(registry *Registry, source string, workers int, metrics *monitoring.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		registry: registry,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue:   make(chan *deliveryJob, 1000),
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		metrics: metrics,
		source:  source,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit fans one outcome out to every active subscription for its type.
func (d *Dispatcher) Emit(eventType EventType, subject string, data map[string]interface{}) {
	subscribers := d.registry.Subscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	event := newDelivery(eventType, d.source, subject, data)
	for _, sub := range subscribers {
		d.enqueue(&deliveryJob{subscriber: sub, event: event, attempt: 1})
	}
}

func (d *Dispatcher) enqueue(job *deliveryJob) {
	select {
	case d.queue <- job:
	default:
		d.metrics.RecordWebhookDelivery("dropped")
		d.logger.Printf("⚠️  Webhook queue full, dropping event %s for %s", job.event.ID, job.subscriber.ID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	payload, err := json.Marshal(job.event)
	if err != nil {
		d.logger.Printf("❌ Failed to marshal webhook event: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, job.subscriber.URL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Printf("❌ Failed to create webhook request: %v", err)
		return
	}
	for k, v := range deliveryHeaders(job.event, job.subscriber.Secret, job.attempt, payload) {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Printf("❌ Webhook delivery failed: %s → %v", job.subscriber.URL, err)
		d.failed(job)
		return
	}
	// Drain so the connection goes back to the pool.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Printf("⚠️  Webhook returned %d: %s → %s", resp.StatusCode, job.subscriber.URL, job.event.Type)
		d.failed(job)
		return
	}

	d.registry.MarkDelivered(job.subscriber.ID)
	d.metrics.RecordWebhookDelivery("delivered")
	d.logger.Printf("✅ Webhook delivered: %s → %s (%s)", job.event.Type, job.subscriber.URL, job.event.ID)
}

// failed counts the failure and requeues up to two retries with a quadratic
// backoff. The worker sleeps through the backoff; the pool is sized for it.
func (d *Dispatcher) failed(job *deliveryJob) {
	d.registry.MarkFailed(job.subscriber.ID)
	d.metrics.RecordWebhookDelivery("failed")

	if job.attempt >= maxAttempts {
		return
	}
	time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
	job.attempt++
	d.enqueue(job)
}

// Shutdown drains the queue and stops the workers.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
