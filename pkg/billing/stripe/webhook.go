package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing/internal"
)

// handleWebhook processes incoming Stripe webhook events.
//
// Only signature and idempotency live here; everything event-specific is
// behind processEvent. Response codes follow the provider's retry
// semantics: 400 tells Stripe the delivery is unusable (bad signature,
// bad envelope), 500 asks it to redeliver (configuration or store
// failure), 200 acknowledges everything else including duplicates and
// unhandled kinds.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		// Missing secret is an operator problem, not a sender problem.
		p.logger.Error("webhook signing secret is not configured")
		p.metrics.RecordWebhookError(providerName, "not_configured")
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	}

	// Raw payload capture: the exact wire bytes, before any parsing.
	body, err := internal.ReadBodyStrict(w, r, maxPayloadBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			http.Error(w, "invalid payload", http.StatusBadRequest)
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	if sig == "" {
		// Distinct from tampering: the sender never signed at all.
		p.logger.Warn("webhook rejected: missing signature header")
		p.metrics.RecordWebhookError(providerName, "missing_signature")
		http.Error(w, billing.ErrMissingSignature.Error(), http.StatusBadRequest)
		return
	}

	// Recomputes the expected signature over the raw bytes and compares
	// in constant time; also parses the envelope.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		p.logger.Warn("webhook rejected: signature verification failed",
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, billing.ErrInvalidSignature.Error(), http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.checkDuplicate(r.Context(), event.ID); errors.Is(err, billing.ErrDuplicateEvent) {
		p.logger.Info("duplicate event suppressed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType})
		p.metrics.RecordDuplicateEvent(providerName, eventType)
		p.metrics.RecordWebhookEvent(providerName, eventType, "skipped")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("duplicate"))
		return
	}

	if err := p.processEvent(r.Context(), &event); err != nil {
		if errors.Is(err, billing.ErrStoreWrite) {
			// Not marked processed: the provider's redelivery is the
			// retry mechanism, gated by the guard on the next attempt.
			p.logger.Error("webhook store write failed",
				billing.Field{Key: "event_id", Value: event.ID},
				billing.Field{Key: "event_type", Value: eventType},
				billing.Field{Key: "error", Value: err.Error()})
			p.metrics.RecordWebhookEvent(providerName, eventType, "error")
			p.metrics.RecordWebhookError(providerName, "store_write")
			p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
			return
		}
		// Anything else retrying cannot fix: log and acknowledge.
		p.logger.Warn("webhook event not applied",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType},
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookEvent(providerName, eventType, "skipped")
	} else {
		p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	}

	if err := p.events.Mark(r.Context(), event.ID); err != nil {
		p.logger.Warn("failed to mark event processed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "error", Value: err.Error()})
	}

	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// checkDuplicate consults the idempotency guard and returns
// billing.ErrDuplicateEvent for an already-seen id. Advisory only: a
// guard read failure (e.g. shared cache down) lets the event through,
// because every downstream write is a keyed upsert and duplicate
// application converges.
func (p *Provider) checkDuplicate(ctx context.Context, eventID string) error {
	seen, err := p.events.Seen(ctx, eventID)
	if err != nil {
		p.logger.Warn("idempotency check failed, processing anyway",
			billing.Field{Key: "event_id", Value: eventID},
			billing.Field{Key: "error", Value: err.Error()})
		return nil
	}
	if seen {
		return billing.ErrDuplicateEvent
	}
	return nil
}

// processEvent dispatches a verified, non-duplicate event to its
// handler. Unrecognized kinds are acknowledged without error so newer
// provider schema additions never bounce.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	case "customer.subscription.trial_will_end":
		return p.handleTrialWillEnd(ctx, event)
	case "invoice.paid", "invoice.payment_succeeded":
		return p.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, event)
	case "payment_method.attached":
		return p.handlePaymentMethodAttached(ctx, event)
	case "customer.updated":
		return p.handleCustomerUpdated(ctx, event)
	default:
		p.logger.Debug("unhandled event type acknowledged",
			billing.Field{Key: "event_type", Value: string(event.Type)})
		return nil
	}
}

// resolveUserByCustomer maps a provider customer id onto the local
// user. A missing mapping is ErrUnresolvedUser: acknowledged upstream,
// since redelivery cannot create the user.
func (p *Provider) resolveUserByCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("%w: empty customer reference", billing.ErrUnresolvedUser)
	}
	user, err := p.store.GetUserByCustomerID(ctx, customerID)
	if errors.Is(err, account.ErrUserNotFound) {
		return "", fmt.Errorf("%w: customer %s", billing.ErrUnresolvedUser, customerID)
	}
	if err != nil {
		// A store read failure is retryable, unlike a missing mapping.
		return "", fmt.Errorf("%w: lookup customer %s: %v", billing.ErrStoreWrite, customerID, err)
	}
	return user.ID, nil
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
