// Package account defines the domain records the billing pipeline
// reconciles (users, subscriptions, credit ledgers) and the Store
// interface the relational backends implement.
package account

import (
	"context"
	"time"
)

// Plan is the internal plan tag for a user.
type Plan string

const (
	// PlanFreeTrial is the entry plan every user starts on.
	PlanFreeTrial Plan = "free_trial"
	// PlanStarter is the lower paid plan.
	PlanStarter Plan = "starter"
	// PlanPro is the higher paid plan.
	PlanPro Plan = "pro"
)

// Weight orders plans by allotment richness. Higher is richer.
// Unknown plans weigh -1 so they sort below every known plan.
func (p Plan) Weight() int {
	switch p {
	case PlanFreeTrial:
		return 0
	case PlanStarter:
		return 10
	case PlanPro:
		return 20
	default:
		return -1
	}
}

// Known reports whether p is one of the fixed internal plans.
func (p Plan) Known() bool {
	return p.Weight() >= 0
}

// SubscriptionStatus is the local subscription status enum.
type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// BillingInterval is the subscription billing cadence.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)

// CreditKind identifies one of the metered usage counters.
type CreditKind string

const (
	CreditSearch CreditKind = "search"
	CreditEmail  CreditKind = "email"
	CreditAI     CreditKind = "ai"
)

// CreditKinds lists every metered counter in a stable order.
var CreditKinds = []CreditKind{CreditSearch, CreditEmail, CreditAI}

// User is the tenant-owning account. The pipeline mutates plan and
// entitlement, never creates or deletes the row.
type User struct {
	ID              string
	Plan            Plan
	HasSubscription bool
}

// PaymentMethod is the last known card summary for a subscription.
type PaymentMethod struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// Subscription is the local mirror of the provider-side subscription,
// one-to-one with User. The row pre-exists per user (created during
// signup); provider fields are populated on the first notification.
type Subscription struct {
	UserID             string
	StripeCustomerID   string
	StripeSubID        string
	Status             SubscriptionStatus
	Plan               Plan
	BillingInterval    BillingInterval
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEndsAt        *time.Time
	CancelAtPeriodEnd  bool
	PaymentMethod      PaymentMethod
	UpdatedAt          time.Time
}

// CreditLedger is a per-user per-kind balance windowed to one billing
// period. A reset replaces the row with a new window, it never extends
// the old one.
type CreditLedger struct {
	UserID      string
	Kind        CreditKind
	Remaining   int
	Allotment   int
	PeriodStart time.Time
	PeriodEnd   time.Time
	UpdatedAt   time.Time
}

// Store is the relational persistence surface the pipeline consumes.
// All writes are keyed by user id (natural-key upserts), so replayed
// events converge to the same final state.
type Store interface {
	// GetUserByCustomerID resolves the local user owning a provider
	// customer id. Returns ErrUserNotFound when no user matches.
	GetUserByCustomerID(ctx context.Context, customerID string) (*User, error)

	// GetSubscription returns the subscription row for a user.
	// Returns ErrSubscriptionNotFound when the row is missing.
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)

	// UpdateSubscription overwrites the subscription row for
	// sub.UserID with the fields carried by sub.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// SetUserPlan updates the user's plan tag and entitlement flag.
	SetUserPlan(ctx context.Context, userID string, plan Plan, hasSubscription bool) error

	// ReplaceCreditLedgers replaces every ledger row for the user with
	// the given set, atomically per user.
	ReplaceCreditLedgers(ctx context.Context, userID string, ledgers []CreditLedger) error

	// GetCreditLedger returns the current ledger for a user and kind.
	// Returns ErrLedgerNotFound when none exists.
	GetCreditLedger(ctx context.Context, userID string, kind CreditKind) (*CreditLedger, error)

	// ConsumeCredit atomically decrements the remaining balance for the
	// user/kind ledger. Returns the new remaining balance, or
	// ErrCreditsExhausted when the balance cannot cover the amount.
	ConsumeCredit(ctx context.Context, userID string, kind CreditKind, amount int) (int, error)
}
