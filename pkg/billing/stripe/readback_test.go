package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/memory"
)

func newReadbackProvider(t *testing.T, store *memory.Store, baseURL string) *Provider {
	t.Helper()
	manager, err := credits.NewManager(store)
	if err != nil {
		t.Fatalf("Failed to create credit manager: %v", err)
	}
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:         store,
			WebhookSecret: testWebhookSecret,
			APIKey:        testAPIKey,
			Prices: map[string]billing.PriceMapping{
				testPriceIDPro: {Plan: account.PlanPro, Interval: account.IntervalAnnual},
			},
		},
		CreditManager: manager,
		APIBaseURL:    baseURL,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider
}

func TestFetchSubscription(t *testing.T) {
	periodStart := time.Now().UTC().Truncate(time.Second)
	periodEnd := periodStart.AddDate(0, 1, 0)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/subscriptions/"+testSubscriptionID {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer "+testAPIKey {
			t.Errorf("Unexpected authorization header %q", auth)
		}
		fmt.Fprintf(w, `{
			"id": %q,
			"customer": %q,
			"status": "active",
			"current_period_start": %d,
			"current_period_end": %d,
			"metadata": {"plan": "pro"}
		}`, testSubscriptionID, testCustomerID, periodStart.Unix(), periodEnd.Unix())
	}))
	defer server.Close()

	provider := newReadbackProvider(t, newTestStore(t), server.URL)
	sub, err := provider.fetchSubscription(context.Background(), testSubscriptionID)
	if err != nil {
		t.Fatalf("fetchSubscription failed: %v", err)
	}
	if sub.Status != "active" {
		t.Errorf("Expected active status, got %s", sub.Status)
	}
	if sub.CurrentPeriodEnd != periodEnd.Unix() {
		t.Errorf("Expected period end %d, got %d", periodEnd.Unix(), sub.CurrentPeriodEnd)
	}
	if sub.Metadata["plan"] != "pro" {
		t.Errorf("Expected plan metadata, got %v", sub.Metadata)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected a single provider call, got %d", calls)
	}
}

func TestFetchSubscriptionErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	provider := newReadbackProvider(t, newTestStore(t), server.URL)
	_, err := provider.fetchSubscription(context.Background(), "sub_missing")
	if !errors.Is(err, billing.ErrReadbackFailed) {
		t.Errorf("Expected ErrReadbackFailed, got %v", err)
	}
}

func TestFetchSubscriptionRequiresAPIKey(t *testing.T) {
	store := newTestStore(t)
	manager, err := credits.NewManager(store)
	if err != nil {
		t.Fatalf("Failed to create credit manager: %v", err)
	}
	provider, err := NewProvider(Config{
		Config:        billing.Config{Store: store, WebhookSecret: testWebhookSecret},
		CreditManager: manager,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if _, err := provider.fetchSubscription(context.Background(), testSubscriptionID); !errors.Is(err, billing.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured without API key, got %v", err)
	}
}

// Invoice without period boundaries falls back to one provider
// read-back, which supplies the window and the plan.
func TestInvoicePaidUsesReadback(t *testing.T) {
	periodStart := time.Now().UTC().Truncate(time.Second)
	periodEnd := periodStart.AddDate(0, 1, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{
			"id": %q,
			"customer": %q,
			"status": "active",
			"current_period_start": %d,
			"current_period_end": %d,
			"metadata": {"plan": "pro"}
		}`, testSubscriptionID, testCustomerID, periodStart.Unix(), periodEnd.Unix())
	}))
	defer server.Close()

	store := newTestStore(t)
	provider := newReadbackProvider(t, store, server.URL)
	ctx := context.Background()

	event := makeEvent(t, "invoice.paid", map[string]interface{}{
		"id":           "in_sparse",
		"customer":     testCustomerID,
		"amount_paid":  2900,
		"subscription": testSubscriptionID,
	})
	if err := provider.processEvent(ctx, event); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}

	sub, err := store.GetSubscription(ctx, testUserID)
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if sub.Plan != account.PlanPro {
		t.Errorf("Expected plan pro from read-back, got %s", sub.Plan)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("Expected period end %v from read-back, got %v", periodEnd, sub.CurrentPeriodEnd)
	}
	assertLedger(t, store, account.CreditSearch, 1000)
}

// A read-back failure is tolerated: the reconciler proceeds with local
// defaults instead of bouncing the delivery.
func TestInvoicePaidSurvivesReadbackFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newTestStore(t)
	provider := newReadbackProvider(t, store, server.URL)
	ctx := context.Background()
	seedActiveSubscription(t, store, account.PlanStarter)

	event := makeEvent(t, "invoice.paid", map[string]interface{}{
		"id":           "in_rb_down",
		"customer":     testCustomerID,
		"amount_paid":  1900,
		"subscription": testSubscriptionID,
	})
	if err := provider.processEvent(ctx, event); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}

	sub, err := store.GetSubscription(ctx, testUserID)
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if sub.Status != account.StatusActive {
		t.Errorf("Expected status active despite read-back failure, got %s", sub.Status)
	}
	if sub.Plan != account.PlanStarter {
		t.Errorf("Expected local plan preserved, got %s", sub.Plan)
	}
	assertLedger(t, store, account.CreditSearch, 250)
}
