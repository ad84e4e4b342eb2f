package billing

import (
	"net/http"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
)

// PriceMapping describes the plan and interval a provider price id
// resolves to.
type PriceMapping struct {
	Plan     account.Plan
	Interval account.BillingInterval
}

// Config defines the standard configuration the pipeline accepts.
type Config struct {
	// Store is the relational store the reconciler and credit manager
	// read and write.
	Store account.Store

	// WebhookSecret is the shared signing secret used to verify
	// incoming webhook requests. Its absence is a hard configuration
	// error at request time, not at startup.
	WebhookSecret string

	// APIKey is used for outbound read-backs to the billing provider.
	APIKey string

	// Prices maps known provider price ids to (plan, interval) pairs.
	// For example: {"price_pro_monthly": {PlanPro, IntervalMonthly}}
	Prices map[string]PriceMapping

	// Events suppresses redelivered event ids. If nil, an in-process
	// EventCache with the default TTL is used. Back it with a shared
	// store (see storage/redis) for multi-instance deployments.
	Events ProcessedEvents

	// HTTPClient is an optional HTTP client for read-back calls.
	// If nil, a default client with a 10s timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks pipeline operations (default: NoopMetrics).
	Metrics Metrics
}
