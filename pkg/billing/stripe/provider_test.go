package stripe

import (
	"testing"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/memory"
)

const (
	testWebhookSecret  = "whsec_test_secret_key_123"
	testAPIKey         = "sk_test_123"
	testUserID         = "test-user-123"
	testCustomerID     = "cus_test_123"
	testSubscriptionID = "sub_test_123"
	testPriceIDStarter = "price_starter_monthly"
	testPriceIDPro     = "price_pro_annual"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.AddUser(account.User{ID: testUserID, Plan: account.PlanFreeTrial}, testCustomerID)
	return store
}

func newTestProvider(t *testing.T, store *memory.Store) *Provider {
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
				testPriceIDStarter: {Plan: account.PlanStarter, Interval: account.IntervalMonthly},
				testPriceIDPro:     {Plan: account.PlanPro, Interval: account.IntervalAnnual},
			},
		},
		CreditManager: manager,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider
}

func TestNewProviderRequiresStore(t *testing.T) {
	manager, err := credits.NewManager(memory.NewStore())
	if err != nil {
		t.Fatalf("Failed to create credit manager: %v", err)
	}
	_, err = NewProvider(Config{CreditManager: manager})
	if err != billing.ErrNotConfigured {
		t.Errorf("Expected ErrNotConfigured without store, got %v", err)
	}
}

func TestNewProviderRequiresCreditManager(t *testing.T) {
	_, err := NewProvider(Config{
		Config: billing.Config{Store: memory.NewStore()},
	})
	if err != billing.ErrNotConfigured {
		t.Errorf("Expected ErrNotConfigured without credit manager, got %v", err)
	}
}

func TestNewProviderDefaults(t *testing.T) {
	provider := newTestProvider(t, newTestStore(t))
	if provider.apiBaseURL != defaultAPIBaseURL {
		t.Errorf("Expected default API base URL, got %s", provider.apiBaseURL)
	}
	if provider.httpClient == nil {
		t.Error("Expected default HTTP client")
	}
	if provider.events == nil {
		t.Error("Expected default event cache")
	}
	if provider.Name() != "stripe" {
		t.Errorf("Expected provider name stripe, got %s", provider.Name())
	}
}

func TestLookupPriceCaseInsensitive(t *testing.T) {
	provider := newTestProvider(t, newTestStore(t))

	tests := []struct {
		priceID string
		plan    account.Plan
		found   bool
	}{
		{testPriceIDStarter, account.PlanStarter, true},
		{"PRICE_STARTER_MONTHLY", account.PlanStarter, true},
		{"  price_pro_annual  ", account.PlanPro, true},
		{"price_unknown", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		mapping, ok := provider.lookupPrice(tc.priceID)
		if ok != tc.found {
			t.Errorf("lookupPrice(%q): expected found=%v, got %v", tc.priceID, tc.found, ok)
			continue
		}
		if ok && mapping.Plan != tc.plan {
			t.Errorf("lookupPrice(%q): expected plan %s, got %s", tc.priceID, tc.plan, mapping.Plan)
		}
	}
}
