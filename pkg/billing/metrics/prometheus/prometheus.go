package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	duplicateEventsTotal      *prometheus.CounterVec
	planChangesTotal          *prometheus.CounterVec
	creditResetsTotal         *prometheus.CounterVec
	readbacksTotal            *prometheus.CounterVec
	readbackDuration          *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for the
// billing pipeline.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from the billing provider.",
		}, []string{"provider", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"provider", "error_type"}),

		duplicateEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "duplicate_events_total",
			Help:      "Total number of redelivered events suppressed by the idempotency guard.",
		}, []string{"provider", "event_type"}),

		planChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "plan_changes_total",
			Help:      "Total number of user plan changes.",
		}, []string{"provider", "from_plan", "to_plan"}),

		creditResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "credit_resets_total",
			Help:      "Total number of credit-ledger replacements.",
		}, []string{"provider", "plan", "reason"}),

		readbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "provider_readbacks_total",
			Help:      "Total number of fallback read-by-id calls to the billing provider.",
		}, []string{"provider", "status"}),

		readbackDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "provider_readback_duration_seconds",
			Help:      "Duration of provider read-back calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(provider, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(provider, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordDuplicateEvent(provider, eventType string) {
	m.duplicateEventsTotal.WithLabelValues(provider, eventType).Inc()
}

func (m *Metrics) RecordPlanChange(provider, fromPlan, toPlan string) {
	m.planChangesTotal.WithLabelValues(provider, fromPlan, toPlan).Inc()
}

func (m *Metrics) RecordCreditReset(provider, plan, reason string) {
	m.creditResetsTotal.WithLabelValues(provider, plan, reason).Inc()
}

func (m *Metrics) RecordProviderReadback(provider, status string) {
	m.readbacksTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordProviderReadbackDuration(provider string, duration time.Duration) {
	m.readbackDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
