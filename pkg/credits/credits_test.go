package credits_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/memory"
)

func newManager(t *testing.T) (*credits.Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.AddUser(account.User{ID: "user-1", Plan: account.PlanFreeTrial}, "cus_test")
	manager, err := credits.NewManager(store)
	require.NoError(t, err)
	return manager, store
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := credits.NewManager(nil)
	assert.Error(t, err)
}

func TestLookupPlan(t *testing.T) {
	tests := []struct {
		raw  string
		plan account.Plan
		ok   bool
	}{
		{"pro", account.PlanPro, true},
		{"Premium", account.PlanPro, true},
		{"starter", account.PlanStarter, true},
		{"BASIC", account.PlanStarter, true},
		{"free_trial", account.PlanFreeTrial, true},
		{"free-trial", account.PlanFreeTrial, true},
		{"  trial  ", account.PlanFreeTrial, true},
		{"enterprise", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		plan, ok := credits.LookupPlan(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		if tc.ok {
			assert.Equal(t, tc.plan, plan, "raw=%q", tc.raw)
		}
	}
}

func TestNormalizePlanFailsClosed(t *testing.T) {
	// Unknown spellings land on the lowest-allotment plan, never a paid one.
	assert.Equal(t, account.PlanFreeTrial, credits.NormalizePlan("enterprise"))
	assert.Equal(t, account.PlanFreeTrial, credits.NormalizePlan(""))
	assert.Equal(t, account.PlanPro, credits.NormalizePlan("PRO"))
}

func TestAllotmentFor(t *testing.T) {
	pro := credits.AllotmentFor(account.PlanPro)
	assert.Equal(t, 1000, pro[account.CreditSearch])
	assert.Equal(t, 500, pro[account.CreditEmail])
	assert.Equal(t, 300, pro[account.CreditAI])

	unknown := credits.AllotmentFor(account.Plan("mystery"))
	assert.Equal(t, credits.AllotmentFor(account.PlanFreeTrial), unknown)
}

func TestInitializeTrialCredits(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()
	start := time.Now().UTC()
	end := start.Add(7 * 24 * time.Hour)

	require.NoError(t, manager.InitializeTrialCredits(ctx, "user-1", start, end))

	for kind, want := range map[account.CreditKind]int{
		account.CreditSearch: 25,
		account.CreditEmail:  10,
		account.CreditAI:     10,
	} {
		ledger, err := store.GetCreditLedger(ctx, "user-1", kind)
		require.NoError(t, err)
		assert.Equal(t, want, ledger.Remaining, "kind=%s", kind)
		assert.Equal(t, want, ledger.Allotment, "kind=%s", kind)
		assert.True(t, ledger.PeriodEnd.After(ledger.PeriodStart))
	}
}

func TestInitializeTrialCreditsRejectsBadWindow(t *testing.T) {
	manager, _ := newManager(t)
	now := time.Now().UTC()
	assert.Error(t, manager.InitializeTrialCredits(context.Background(), "user-1", now, now))
	assert.Error(t, manager.InitializeTrialCredits(context.Background(), "", now, now.Add(time.Hour)))
}

func TestResetForNewPeriodReplacesPartialBalances(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	start := time.Now().UTC()
	end := start.Add(30 * 24 * time.Hour)

	require.NoError(t, manager.ResetForNewPeriod(ctx, "user-1", account.PlanStarter, start, end))

	_, err := manager.Consume(ctx, "user-1", account.CreditSearch, 200)
	require.NoError(t, err)
	remaining, err := manager.Remaining(ctx, "user-1", account.CreditSearch)
	require.NoError(t, err)
	assert.Equal(t, 50, remaining)

	// A new paid period replaces the drained ledgers with the full grant.
	newStart := end
	newEnd := newStart.Add(30 * 24 * time.Hour)
	require.NoError(t, manager.ResetForNewPeriod(ctx, "user-1", account.PlanStarter, newStart, newEnd))

	remaining, err = manager.Remaining(ctx, "user-1", account.CreditSearch)
	require.NoError(t, err)
	assert.Equal(t, 250, remaining)
}

func TestResetForNewPeriodUnknownPlanFailsClosed(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	start := time.Now().UTC()

	require.NoError(t, manager.ResetForNewPeriod(ctx, "user-1", account.Plan("enterprise"), start, start.Add(time.Hour)))

	remaining, err := manager.Remaining(ctx, "user-1", account.CreditSearch)
	require.NoError(t, err)
	assert.Equal(t, 25, remaining)
}

func TestConsume(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	start := time.Now().UTC()
	require.NoError(t, manager.ResetForNewPeriod(ctx, "user-1", account.PlanPro, start, start.Add(time.Hour)))

	remaining, err := manager.Consume(ctx, "user-1", account.CreditAI, 100)
	require.NoError(t, err)
	assert.Equal(t, 200, remaining)

	// Zero-amount consume is a balance read.
	remaining, err = manager.Consume(ctx, "user-1", account.CreditAI, 0)
	require.NoError(t, err)
	assert.Equal(t, 200, remaining)

	_, err = manager.Consume(ctx, "user-1", account.CreditAI, -1)
	assert.ErrorIs(t, err, account.ErrInvalidAmount)

	_, err = manager.Consume(ctx, "user-1", account.CreditAI, 201)
	assert.ErrorIs(t, err, account.ErrCreditsExhausted)

	// Balance unchanged after the rejected overdraw.
	remaining, err = manager.Remaining(ctx, "user-1", account.CreditAI)
	require.NoError(t, err)
	assert.Equal(t, 200, remaining)
}

func TestRemainingWithoutLedger(t *testing.T) {
	manager, _ := newManager(t)
	remaining, err := manager.Remaining(context.Background(), "user-1", account.CreditSearch)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}
