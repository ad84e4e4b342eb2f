// Package stripe implements the billing-event ingestion pipeline for
// Stripe: raw payload capture, signature verification, idempotency
// tracking, event routing, and reconciliation of provider payloads onto
// the local subscription, user, and credit-ledger records.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing/internal"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultAPIBaseURL        = "https://api.stripe.com"
	maxPayloadBytes          = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options.
type Config struct {
	billing.Config // Base config (Store, Prices, WebhookSecret, APIKey, ...)

	// CreditManager drives trial grants and period resets. Required.
	CreditManager *credits.Manager

	// APIBaseURL overrides the provider endpoint for read-back calls.
	// Tests point it at a local httptest server.
	APIBaseURL string
}

// Provider is the Stripe ingestion pipeline. One instance serves all
// inbound notifications; the handler itself is stateless, the embedded
// event cache and rate limiter are the only shared mutable state.
type Provider struct {
	store         account.Store
	creditManager *credits.Manager
	prices        map[string]billing.PriceMapping
	webhookSecret []byte
	apiKey        string
	apiBaseURL    string
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	events        billing.ProcessedEvents
	readbacks     singleflight.Group
	logger        billing.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing pipeline.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrNotConfigured
	}
	if config.CreditManager == nil {
		return nil, billing.ErrNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	// Price ids are matched case-insensitively.
	prices := make(map[string]billing.PriceMapping, len(config.Prices))
	for id, mapping := range config.Prices {
		prices[strings.ToLower(strings.TrimSpace(id))] = mapping
	}

	events := config.Events
	if events == nil {
		events = billing.NewEventCache(billing.DefaultEventTTL)
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		store:         config.Store,
		creditManager: config.CreditManager,
		prices:        prices,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		apiKey:        strings.TrimSpace(config.APIKey),
		apiBaseURL:    baseURL,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		events:        events,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler that processes inbound
// notifications, wrapped with per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// lookupPrice maps a Stripe price id to its configured (plan, interval)
// pair. The second return is false for unknown price ids.
func (p *Provider) lookupPrice(priceID string) (billing.PriceMapping, bool) {
	if priceID == "" {
		return billing.PriceMapping{}, false
	}
	mapping, ok := p.prices[strings.ToLower(strings.TrimSpace(priceID))]
	return mapping, ok
}
