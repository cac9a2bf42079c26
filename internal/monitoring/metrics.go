package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the attendance kiosk
type Metrics struct {
	// Attendance outcomes
	RecordsCommitted *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	Aborts           *prometheus.CounterVec

	// Vision intake
	SightingVerdicts *prometheus.CounterVec

	// Recognizer sidecar
	RecognizerLatency  prometheus.Histogram
	RecognizerFailures *prometheus.CounterVec

	// Group checkout
	GroupBufferSize prometheus.Gauge

	// Store and egress
	StoreRetries    prometheus.Counter
	LocationPending prometheus.Gauge

	// Webhook deliveries
	WebhookDeliveries *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsCommitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_records_committed_total",
				Help: "Attendance records committed to the store",
			},
			[]string{"kind", "direction", "method"},
		),

		Rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_rejections_total",
				Help: "Attendance submissions rejected, by policy code",
			},
			[]string{"code"},
		),

		Aborts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_aborts_total",
				Help: "Attendance flows aborted by the user",
			},
			[]string{"reason"},
		),

		SightingVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_sighting_verdicts_total",
				Help: "Warm-up filter verdicts, by phase",
			},
			[]string{"phase"}, // phase: warming, ready, cooldown
		),

		RecognizerLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kiosk_recognizer_latency_seconds",
				Help:    "Round-trip time of recognizer sidecar calls",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
			},
		),

		RecognizerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_recognizer_failures_total",
				Help: "Recognizer calls degraded to unknown",
			},
			[]string{"reason"}, // reason: transport, circuit_open, empty
		),

		GroupBufferSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kiosk_group_buffer_size",
				Help: "Subjects currently admitted to the group checkout buffer",
			},
		),

		StoreRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kiosk_store_retries_total",
				Help: "Record store writes retried after a transient failure",
			},
		),

		LocationPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kiosk_location_pending",
				Help: "Location picker requests currently parked",
			},
		),

		WebhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_webhook_deliveries_total",
				Help: "Webhook delivery attempts, by result",
			},
			[]string{"result"}, // result: delivered, failed, disabled
		),
	}
}

// All helpers tolerate a nil receiver so tests can run without a registry.

func (m *Metrics) RecordCommitted(kind, direction, method string) {
	if m == nil {
		return
	}
	m.RecordsCommitted.WithLabelValues(kind, direction, method).Inc()
}

func (m *Metrics) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordAbort(reason string) {
	if m == nil {
		return
	}
	m.Aborts.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSightingVerdict(phase string) {
	if m == nil {
		return
	}
	m.SightingVerdicts.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveRecognizerLatency(seconds float64) {
	if m == nil {
		return
	}
	m.RecognizerLatency.Observe(seconds)
}

func (m *Metrics) RecordRecognizerFailure(reason string) {
	if m == nil {
		return
	}
	m.RecognizerFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetGroupBufferSize(n int) {
	if m == nil {
		return
	}
	m.GroupBufferSize.Set(float64(n))
}

func (m *Metrics) RecordStoreRetry() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}

func (m *Metrics) SetLocationPending(n int) {
	if m == nil {
		return
	}
	m.LocationPending.Set(float64(n))
}

func (m *Metrics) RecordWebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
}
