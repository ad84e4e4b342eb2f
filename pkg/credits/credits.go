// Package credits owns the metered-credit lifecycle: the trial grant
// when a subscription enters trialing, and the full reset when a new
// billing period is confirmed paid.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
)

// Allotment maps each credit kind to its per-period grant.
type Allotment map[account.CreditKind]int

// planAllotments is the fixed grant table per plan.
var planAllotments = map[account.Plan]Allotment{
	account.PlanFreeTrial: {
		account.CreditSearch: 25,
		account.CreditEmail:  10,
		account.CreditAI:     10,
	},
	account.PlanStarter: {
		account.CreditSearch: 250,
		account.CreditEmail:  100,
		account.CreditAI:     50,
	},
	account.PlanPro: {
		account.CreditSearch: 1000,
		account.CreditEmail:  500,
		account.CreditAI:     300,
	},
}

// planAliases collapses provider-specific plan spellings into the
// internal enum. Keys are lowercased before lookup.
var planAliases = map[string]account.Plan{
	"free_trial": account.PlanFreeTrial,
	"free-trial": account.PlanFreeTrial,
	"trial":      account.PlanFreeTrial,
	"free":       account.PlanFreeTrial,
	"starter":    account.PlanStarter,
	"basic":      account.PlanStarter,
	"pro":        account.PlanPro,
	"premium":    account.PlanPro,
}

// LookupPlan maps a provider plan spelling onto the internal enum
// without the fail-closed default. The second return is false for
// unrecognized spellings, letting the reconciler fall through to the
// next resolution step instead of clobbering a known plan.
func LookupPlan(raw string) (account.Plan, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	plan, ok := planAliases[key]
	return plan, ok
}

// NormalizePlan maps a provider plan spelling onto the internal enum.
// Unrecognized spellings fail closed to the lowest-allotment known plan:
// under-granting is a support ticket, over-granting is a revenue leak.
func NormalizePlan(raw string) account.Plan {
	key := strings.ToLower(strings.TrimSpace(raw))
	if plan, ok := planAliases[key]; ok {
		return plan
	}
	return lowestPlan()
}

// lowestPlan returns the known plan with the smallest weight.
func lowestPlan() account.Plan {
	lowest := account.PlanFreeTrial
	for plan := range planAllotments {
		if plan.Weight() < lowest.Weight() {
			lowest = plan
		}
	}
	return lowest
}

// AllotmentFor returns the grant table for a plan. Unknown plans get
// the lowest-allotment table, mirroring NormalizePlan.
func AllotmentFor(plan account.Plan) Allotment {
	if a, ok := planAllotments[plan]; ok {
		return a
	}
	return planAllotments[lowestPlan()]
}

// Manager drives ledger writes through the relational store.
type Manager struct {
	store account.Store
}

// NewManager creates a credit lifecycle manager backed by store.
func NewManager(store account.Store) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("credits: store is required")
	}
	return &Manager{store: store}, nil
}

// InitializeTrialCredits creates the trial-allotment ledgers for every
// credit kind, windowed to [periodStart, periodEnd]. Called when the
// reconciler observes a transition into trialing with a known trial end.
func (m *Manager) InitializeTrialCredits(ctx context.Context, userID string, periodStart, periodEnd time.Time) error {
	if userID == "" {
		return fmt.Errorf("credits: user id is required")
	}
	if !periodEnd.After(periodStart) {
		return fmt.Errorf("credits: period end %s is not after start %s", periodEnd, periodStart)
	}
	ledgers := buildLedgers(userID, account.PlanFreeTrial, periodStart, periodEnd)
	if err := m.store.ReplaceCreditLedgers(ctx, userID, ledgers); err != nil {
		return fmt.Errorf("credits: initialize trial ledgers: %w", err)
	}
	return nil
}

// ResetForNewPeriod replaces every ledger with the plan's full allotment
// windowed to the new billing period. Called on confirmed non-zero
// payment capture, never on zero-amount trial invoices.
func (m *Manager) ResetForNewPeriod(ctx context.Context, userID string, plan account.Plan, periodStart, periodEnd time.Time) error {
	if userID == "" {
		return fmt.Errorf("credits: user id is required")
	}
	if !periodEnd.After(periodStart) {
		return fmt.Errorf("credits: period end %s is not after start %s", periodEnd, periodStart)
	}
	if !plan.Known() {
		plan = lowestPlan()
	}
	ledgers := buildLedgers(userID, plan, periodStart, periodEnd)
	if err := m.store.ReplaceCreditLedgers(ctx, userID, ledgers); err != nil {
		return fmt.Errorf("credits: reset ledgers: %w", err)
	}
	return nil
}

// Consume decrements the user's balance for one credit kind.
// Returns the remaining balance after the decrement.
func (m *Manager) Consume(ctx context.Context, userID string, kind account.CreditKind, amount int) (int, error) {
	if amount < 0 {
		return 0, account.ErrInvalidAmount
	}
	if amount == 0 {
		ledger, err := m.store.GetCreditLedger(ctx, userID, kind)
		if err != nil {
			return 0, err
		}
		if ledger == nil {
			return 0, account.ErrCreditsExhausted
		}
		return ledger.Remaining, nil
	}
	return m.store.ConsumeCredit(ctx, userID, kind, amount)
}

// Remaining returns the current balance for a user and kind, zero when
// no ledger exists.
func (m *Manager) Remaining(ctx context.Context, userID string, kind account.CreditKind) (int, error) {
	ledger, err := m.store.GetCreditLedger(ctx, userID, kind)
	if errors.Is(err, account.ErrLedgerNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if ledger == nil {
		return 0, nil
	}
	return ledger.Remaining, nil
}

func buildLedgers(userID string, plan account.Plan, periodStart, periodEnd time.Time) []account.CreditLedger {
	allotment := AllotmentFor(plan)
	now := time.Now().UTC()
	ledgers := make([]account.CreditLedger, 0, len(account.CreditKinds))
	for _, kind := range account.CreditKinds {
		grant := allotment[kind]
		ledgers = append(ledgers, account.CreditLedger{
			UserID:      userID,
			Kind:        kind,
			Remaining:   grant,
			Allotment:   grant,
			PeriodStart: periodStart.UTC(),
			PeriodEnd:   periodEnd.UTC(),
			UpdatedAt:   now,
		})
	}
	return ledgers
}
