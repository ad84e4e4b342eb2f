package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
)

// ---------------------------------------------------------------------------
// Event payload DTOs
//
// The reconciler parses event.data.object into its own structs and never
// lets a raw provider object past this boundary. Reference-typed fields
// (customer, subscription, payment method) are kept as json.RawMessage
// because the provider returns either a bare string id or an expanded
// object depending on the expansion options in effect when the event was
// generated; refID normalizes both forms.
// ---------------------------------------------------------------------------

type subscriptionPayload struct {
	ID                   string            `json:"id"`
	Customer             json.RawMessage   `json:"customer"`
	Status               string            `json:"status"`
	CancelAtPeriodEnd    bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart   int64             `json:"current_period_start"`
	CurrentPeriodEnd     int64             `json:"current_period_end"`
	TrialStart           int64             `json:"trial_start"`
	TrialEnd             int64             `json:"trial_end"`
	Metadata             map[string]string `json:"metadata"`
	DefaultPaymentMethod json.RawMessage   `json:"default_payment_method"`
	Items                struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

type subscriptionItem struct {
	// Newer provider API versions moved period boundaries from the
	// subscription onto its items.
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Price              pricePayload `json:"price"`
}

type pricePayload struct {
	ID        string            `json:"id"`
	Metadata  map[string]string `json:"metadata"`
	Recurring struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

type invoicePayload struct {
	ID           string          `json:"id"`
	Customer     json.RawMessage `json:"customer"`
	AmountPaid   int64           `json:"amount_paid"`
	PeriodStart  int64           `json:"period_start"`
	PeriodEnd    int64           `json:"period_end"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *invoiceParent  `json:"parent"`
	Lines        struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type invoiceParent struct {
	SubscriptionDetails *struct {
		Subscription json.RawMessage   `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type invoiceLine struct {
	Subscription json.RawMessage `json:"subscription"`
	Price        pricePayload    `json:"price"`
	Parent       *struct {
		SubscriptionItemDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_item_details"`
	} `json:"parent"`
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

type paymentMethodPayload struct {
	ID       string          `json:"id"`
	Customer json.RawMessage `json:"customer"`
	Card     cardPayload     `json:"card"`
}

type cardPayload struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type customerPayload struct {
	ID              string `json:"id"`
	InvoiceSettings struct {
		DefaultPaymentMethod json.RawMessage `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

// refID normalizes a provider reference that arrives either as a bare
// string id or as an expanded object carrying an "id" field.
func refID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// subscriptionIDFromInvoice extracts the linked subscription id from an
// invoice, trying known locations in a fixed priority order: the legacy
// top-level field, the parent details introduced by newer API versions,
// then the line-item level. The caller falls back to the id already on
// file for the customer before giving up.
func subscriptionIDFromInvoice(inv *invoicePayload) string {
	if id := refID(inv.Subscription); id != "" {
		return id
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if id := refID(inv.Parent.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	for _, line := range inv.Lines.Data {
		if id := refID(line.Subscription); id != "" {
			return id
		}
		if line.Parent != nil && line.Parent.SubscriptionItemDetails != nil {
			if id := refID(line.Parent.SubscriptionItemDetails.Subscription); id != "" {
				return id
			}
		}
	}
	return ""
}

// mapStatus maps a provider subscription status onto the local enum.
// incomplete_expired collapses into incomplete; unknown statuses pass
// through unchanged so newer provider states are preserved, not lost.
func mapStatus(status string) account.SubscriptionStatus {
	switch status {
	case "trialing":
		return account.StatusTrialing
	case "active":
		return account.StatusActive
	case "canceled":
		return account.StatusCanceled
	case "past_due":
		return account.StatusPastDue
	case "incomplete", "incomplete_expired":
		return account.StatusIncomplete
	default:
		return account.SubscriptionStatus(status)
	}
}

// resolvePlanInterval resolves the plan and billing interval for a
// subscription payload: explicit metadata first, then the price table,
// then inference from the price's recurring interval. Either return may
// come back false, in which case the caller keeps the value already on
// file (a previously-known plan is never regressed by ambiguous data).
func (p *Provider) resolvePlanInterval(
	meta map[string]string, items []subscriptionItem,
) (plan account.Plan, interval account.BillingInterval, havePlan, haveInterval bool) {
	if meta != nil {
		if v, ok := credits.LookupPlan(meta["plan"]); ok {
			plan, havePlan = v, true
		}
		switch meta["billing_interval"] {
		case "annual", "yearly", "year":
			interval, haveInterval = account.IntervalAnnual, true
		case "monthly", "month":
			interval, haveInterval = account.IntervalMonthly, true
		}
	}

	for _, item := range items {
		if mapping, ok := p.lookupPrice(item.Price.ID); ok {
			if !havePlan {
				plan, havePlan = mapping.Plan, true
			}
			if !haveInterval {
				interval, haveInterval = mapping.Interval, true
			}
		}
		if !haveInterval && item.Price.Recurring.Interval != "" {
			if item.Price.Recurring.Interval == "year" {
				interval = account.IntervalAnnual
			} else {
				interval = account.IntervalMonthly
			}
			haveInterval = true
		}
		if havePlan && haveInterval {
			break
		}
	}
	return plan, interval, havePlan, haveInterval
}

// unixTime converts provider epoch seconds to a *time.Time, nil for 0.
func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

// handleSubscriptionChange reconciles customer.subscription.created and
// customer.subscription.updated events onto the local records.
func (p *Provider) handleSubscriptionChange(ctx context.Context, event *stripe.Event) error {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%w: subscription object: %v", billing.ErrInvalidPayload, err)
	}

	userID, err := p.resolveUserByCustomer(ctx, refID(payload.Customer))
	if err != nil {
		return err
	}
	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	updated := *existing
	if id := refID(payload.Customer); id != "" {
		updated.StripeCustomerID = id
	}
	if payload.ID != "" {
		updated.StripeSubID = payload.ID
	}

	status := mapStatus(payload.Status)
	if status != "" {
		if !knownLocalStatus(status) {
			p.logger.Warn("unknown provider subscription status passed through",
				billing.Field{Key: "status", Value: payload.Status})
		}
		updated.Status = status
	}
	updated.CancelAtPeriodEnd = payload.CancelAtPeriodEnd

	plan, interval, havePlan, haveInterval := p.resolvePlanInterval(payload.Metadata, payload.Items.Data)
	if havePlan {
		updated.Plan = plan
	}
	if haveInterval {
		updated.BillingInterval = interval
	}

	start, end := periodFromSubscription(&payload)
	if start != nil {
		updated.CurrentPeriodStart = start
	}
	if end != nil {
		updated.CurrentPeriodEnd = end
	}
	if trialEnd := unixTime(payload.TrialEnd); trialEnd != nil {
		updated.TrialEndsAt = trialEnd
	}
	if card := cardFromRef(payload.DefaultPaymentMethod); card != nil {
		updated.PaymentMethod = *card
	}

	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}

	// Entitlement follows status. A cancel-at-period-end flag on a still
	// active subscription does not demote: access holds until the
	// terminal deleted event arrives.
	switch updated.Status {
	case account.StatusActive:
		if err := p.setUserPlan(ctx, userID, updated.Plan, true); err != nil {
			return err
		}
	case account.StatusTrialing:
		if err := p.setUserPlan(ctx, userID, updated.Plan, false); err != nil {
			return err
		}
	}

	// Trial grant: exactly once, on the transition into trialing with a
	// known trial end.
	if updated.Status == account.StatusTrialing && existing.Status != account.StatusTrialing {
		trialStart := unixTime(payload.TrialStart)
		if trialStart == nil {
			trialStart = updated.CurrentPeriodStart
		}
		if trialStart == nil {
			now := time.Now().UTC()
			trialStart = &now
		}
		if updated.TrialEndsAt == nil {
			p.logger.Warn("trialing subscription without trial end, skipping credit grant",
				billing.Field{Key: "user_id", Value: userID})
			return nil
		}
		if err := p.creditManager.InitializeTrialCredits(ctx, userID, *trialStart, *updated.TrialEndsAt); err != nil {
			return fmt.Errorf("%w: trial credits for user %s: %v", billing.ErrStoreWrite, userID, err)
		}
		p.metrics.RecordCreditReset(providerName, string(account.PlanFreeTrial), "trial_start")
		p.logger.Info("trial credits granted",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "trial_ends_at", Value: updated.TrialEndsAt})
	}
	return nil
}

// handleSubscriptionDeleted reconciles terminal cancellation: paid
// entitlement is revoked immediately, unlike a cancel-at-period-end
// flag set while the subscription is still running.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%w: subscription object: %v", billing.ErrInvalidPayload, err)
	}

	userID, err := p.resolveUserByCustomer(ctx, refID(payload.Customer))
	if err != nil {
		return err
	}
	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	previousPlan := existing.Plan

	updated := *existing
	updated.Status = account.StatusCanceled
	updated.CancelAtPeriodEnd = true
	if payload.ID != "" {
		updated.StripeSubID = payload.ID
	}

	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	if err := p.setUserPlan(ctx, userID, account.PlanFreeTrial, false); err != nil {
		return err
	}

	p.metrics.RecordPlanChange(providerName, string(previousPlan), string(account.PlanFreeTrial))
	p.logger.Info("subscription canceled, entitlement revoked",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "subscription_id", Value: updated.StripeSubID})
	return nil
}

// handleTrialWillEnd acknowledges the trial-ending reminder. The
// outbound notification to the user is produced elsewhere; the pipeline
// records the signal.
func (p *Provider) handleTrialWillEnd(ctx context.Context, event *stripe.Event) error {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%w: subscription object: %v", billing.ErrInvalidPayload, err)
	}
	userID, err := p.resolveUserByCustomer(ctx, refID(payload.Customer))
	if err != nil {
		return err
	}
	p.logger.Info("trial ending soon",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "trial_ends_at", Value: unixTime(payload.TrialEnd)})
	return nil
}

// handleInvoicePaid drives the paid-period reconciliation: subscription
// goes active, the user gains entitlement, and the credit ledgers are
// replaced with the plan's full allotment for the new period. Zero
// amounts (trial invoices) never reset credits.
func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("%w: invoice object: %v", billing.ErrInvalidPayload, err)
	}

	userID, err := p.resolveUserByCustomer(ctx, refID(inv.Customer))
	if err != nil {
		return err
	}

	if inv.AmountPaid == 0 {
		// Trial invoices capture nothing; only a real capture resets.
		p.logger.Debug("zero-amount invoice, skipping credit reset",
			billing.Field{Key: "invoice_id", Value: inv.ID},
			billing.Field{Key: "user_id", Value: userID})
		return nil
	}

	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	subID := subscriptionIDFromInvoice(&inv)
	if subID == "" {
		// Last resort: the id already on file for this customer.
		subID = existing.StripeSubID
	}
	if subID == "" {
		return fmt.Errorf("invoice %s has no resolvable subscription reference", inv.ID)
	}

	plan, interval, havePlan, haveInterval := p.planFromInvoiceLines(inv.Lines.Data)
	start, end := periodFromInvoiceLines(inv.Lines.Data)
	if start == nil || end == nil {
		if s := unixTime(inv.PeriodStart); start == nil && s != nil {
			start = s
		}
		if e := unixTime(inv.PeriodEnd); end == nil && e != nil {
			end = e
		}
	}

	// The invoice payload may omit authoritative period boundaries or
	// plan metadata; one read-back to the provider fills them in. A
	// read-back failure is logged and handling proceeds with what the
	// local record already provides.
	if start == nil || end == nil || !havePlan {
		if sub, rbErr := p.fetchSubscription(ctx, subID); rbErr == nil {
			rbStart, rbEnd := periodFromSubscription(sub)
			if rbStart != nil {
				start = rbStart
			}
			if rbEnd != nil {
				end = rbEnd
			}
			rbPlan, rbInterval, rbHavePlan, rbHaveInterval := p.resolvePlanInterval(sub.Metadata, sub.Items.Data)
			if rbHavePlan && !havePlan {
				plan, havePlan = rbPlan, true
			}
			if rbHaveInterval && !haveInterval {
				interval, haveInterval = rbInterval, true
			}
		} else {
			p.logger.Warn("provider read-back failed, using local defaults",
				billing.Field{Key: "subscription_id", Value: subID},
				billing.Field{Key: "error", Value: rbErr.Error()})
		}
	}

	if !havePlan && existing.Plan != "" {
		plan, havePlan = existing.Plan, true
	}
	if !haveInterval {
		if existing.BillingInterval != "" {
			interval = existing.BillingInterval
		} else {
			interval = account.IntervalMonthly
		}
	}
	start, end = ensurePeriod(start, end, existing, interval)

	updated := *existing
	updated.Status = account.StatusActive
	updated.StripeSubID = subID
	if id := refID(inv.Customer); id != "" {
		updated.StripeCustomerID = id
	}
	if havePlan {
		updated.Plan = plan
	}
	updated.BillingInterval = interval
	updated.CurrentPeriodStart = start
	updated.CurrentPeriodEnd = end

	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	if err := p.setUserPlan(ctx, userID, updated.Plan, true); err != nil {
		return err
	}

	resetPlan := updated.Plan
	if !resetPlan.Known() {
		resetPlan = credits.NormalizePlan(string(resetPlan))
	}
	if err := p.creditManager.ResetForNewPeriod(ctx, userID, resetPlan, *start, *end); err != nil {
		return fmt.Errorf("%w: credit reset for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	p.metrics.RecordCreditReset(providerName, string(resetPlan), "period_paid")
	p.logger.Info("billing period confirmed paid, credits reset",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "plan", Value: string(resetPlan)},
		billing.Field{Key: "period_end", Value: end})
	return nil
}

// handleInvoicePaymentFailed records the dunning state. Credits and
// entitlement are untouched: the provider drives further transitions.
func (p *Provider) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("%w: invoice object: %v", billing.ErrInvalidPayload, err)
	}
	userID, err := p.resolveUserByCustomer(ctx, refID(inv.Customer))
	if err != nil {
		return err
	}
	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	updated := *existing
	updated.Status = account.StatusPastDue
	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	p.logger.Warn("invoice payment failed",
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "invoice_id", Value: inv.ID})
	return nil
}

// handlePaymentMethodAttached refreshes the card summary on file.
func (p *Provider) handlePaymentMethodAttached(ctx context.Context, event *stripe.Event) error {
	var pm paymentMethodPayload
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("%w: payment method object: %v", billing.ErrInvalidPayload, err)
	}
	if pm.Card.Last4 == "" {
		return nil
	}
	userID, err := p.resolveUserByCustomer(ctx, refID(pm.Customer))
	if err != nil {
		return err
	}
	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	updated := *existing
	updated.PaymentMethod = account.PaymentMethod{
		Brand:    pm.Card.Brand,
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}
	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	return nil
}

// handleCustomerUpdated refreshes the card summary when the customer's
// default payment method arrives expanded in the payload.
func (p *Provider) handleCustomerUpdated(ctx context.Context, event *stripe.Event) error {
	var cust customerPayload
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return fmt.Errorf("%w: customer object: %v", billing.ErrInvalidPayload, err)
	}
	card := cardFromRef(cust.InvoiceSettings.DefaultPaymentMethod)
	if card == nil {
		// A bare id carries no card details; nothing to apply.
		return nil
	}
	userID, err := p.resolveUserByCustomer(ctx, cust.ID)
	if err != nil {
		return err
	}
	existing, err := p.getSubscription(ctx, userID)
	if err != nil {
		return err
	}

	updated := *existing
	updated.PaymentMethod = *card
	if err := p.store.UpdateSubscription(ctx, &updated); err != nil {
		return fmt.Errorf("%w: subscription for user %s: %v", billing.ErrStoreWrite, userID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func (p *Provider) getSubscription(ctx context.Context, userID string) (*account.Subscription, error) {
	sub, err := p.store.GetSubscription(ctx, userID)
	if err != nil {
		// The row pre-exists per user (created at signup); a missing
		// row is a condition redelivery cannot fix.
		return nil, fmt.Errorf("%w: user %s has no subscription row", billing.ErrUnresolvedUser, userID)
	}
	return sub, nil
}

func (p *Provider) setUserPlan(ctx context.Context, userID string, plan account.Plan, hasSubscription bool) error {
	if !plan.Known() {
		plan = account.PlanFreeTrial
	}
	if err := p.store.SetUserPlan(ctx, userID, plan, hasSubscription); err != nil {
		return fmt.Errorf("%w: user plan for %s: %v", billing.ErrStoreWrite, userID, err)
	}
	return nil
}

// planFromInvoiceLines resolves plan/interval from invoice line prices.
func (p *Provider) planFromInvoiceLines(
	lines []invoiceLine,
) (plan account.Plan, interval account.BillingInterval, havePlan, haveInterval bool) {
	items := make([]subscriptionItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, subscriptionItem{Price: line.Price})
	}
	return p.resolvePlanInterval(nil, items)
}

// periodFromSubscription extracts period boundaries, preferring the
// legacy top-level fields and falling back to the first item carrying
// them (newer API versions).
func periodFromSubscription(sub *subscriptionPayload) (start, end *time.Time) {
	start = unixTime(sub.CurrentPeriodStart)
	end = unixTime(sub.CurrentPeriodEnd)
	if start != nil && end != nil {
		return start, end
	}
	for _, item := range sub.Items.Data {
		if start == nil {
			start = unixTime(item.CurrentPeriodStart)
		}
		if end == nil {
			end = unixTime(item.CurrentPeriodEnd)
		}
		if start != nil && end != nil {
			break
		}
	}
	return start, end
}

func periodFromInvoiceLines(lines []invoiceLine) (start, end *time.Time) {
	for _, line := range lines {
		if start == nil {
			start = unixTime(line.Period.Start)
		}
		if end == nil {
			end = unixTime(line.Period.End)
		}
		if start != nil && end != nil {
			break
		}
	}
	return start, end
}

// ensurePeriod fills missing boundaries from the local record, then
// synthesizes a window from now and the billing interval as the final
// fallback, so a credit reset always has a valid window.
func ensurePeriod(
	start, end *time.Time, existing *account.Subscription, interval account.BillingInterval,
) (*time.Time, *time.Time) {
	if start == nil {
		start = existing.CurrentPeriodStart
	}
	if end == nil {
		end = existing.CurrentPeriodEnd
	}
	if start == nil {
		now := time.Now().UTC()
		start = &now
	}
	if end == nil || !end.After(*start) {
		var e time.Time
		if interval == account.IntervalAnnual {
			e = start.AddDate(1, 0, 0)
		} else {
			e = start.AddDate(0, 1, 0)
		}
		end = &e
	}
	return start, end
}

// cardFromRef returns the card summary when a payment-method reference
// arrives as an expanded object; a bare string id yields nil.
func cardFromRef(raw json.RawMessage) *account.PaymentMethod {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nil
	}
	var pm paymentMethodPayload
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil
	}
	if pm.Card.Last4 == "" {
		return nil
	}
	return &account.PaymentMethod{
		Brand:    pm.Card.Brand,
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}
}

func knownLocalStatus(s account.SubscriptionStatus) bool {
	switch s {
	case account.StatusTrialing, account.StatusActive, account.StatusPastDue,
		account.StatusCanceled, account.StatusIncomplete:
		return true
	default:
		return false
	}
}
