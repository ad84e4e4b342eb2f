package billing

import "time"

// Metrics defines the interface for tracking billing pipeline operations.
// All methods are optional - callers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The provider event type (e.g., "invoice.paid")
	// status: "success", "skipped", or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "store_write")
	RecordWebhookError(provider, errorType string)

	// RecordDuplicateEvent records a redelivery suppressed by the idempotency guard.
	RecordDuplicateEvent(provider, eventType string)

	// RecordPlanChange records when a user's plan changes.
	RecordPlanChange(provider, fromPlan, toPlan string)

	// RecordCreditReset records a credit-ledger replacement.
	// reason: "trial_start" or "period_paid"
	RecordCreditReset(provider, plan, reason string)

	// RecordProviderReadback records a fallback read-by-id to the provider.
	// status: HTTP status code as string, or "error"
	RecordProviderReadback(provider, status string)

	// RecordProviderReadbackDuration records how long a read-back took.
	RecordProviderReadbackDuration(provider string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordDuplicateEvent(_, _ string)                             {}
func (n *NoopMetrics) RecordPlanChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordCreditReset(_, _, _ string)                             {}
func (n *NoopMetrics) RecordProviderReadback(_, _ string)                           {}
func (n *NoopMetrics) RecordProviderReadbackDuration(_ string, _ time.Duration)     {}
