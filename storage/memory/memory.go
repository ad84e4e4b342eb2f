// Package memory provides an in-memory account store. Useful for tests
// and single-instance deployments without persistence requirements.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
)

// Store is a thread-safe in-memory implementation of account.Store.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*account.User          // keyed by user id
	customerIndex map[string]string                 // provider customer id -> user id
	subscriptions map[string]*account.Subscription  // keyed by user id
	ledgers       map[string]*account.CreditLedger  // keyed by user id + "/" + kind
	now           func() time.Time
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*account.User),
		customerIndex: make(map[string]string),
		subscriptions: make(map[string]*account.Subscription),
		ledgers:       make(map[string]*account.CreditLedger),
		now:           time.Now,
	}
}

func ledgerKey(userID string, kind account.CreditKind) string {
	return userID + "/" + string(kind)
}

// AddUser registers a user and an optional provider customer mapping,
// along with an empty subscription row. Mirrors what the signup flow
// creates before any billing event arrives.
func (s *Store) AddUser(user account.User, customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[user.ID] = &u
	if customerID != "" {
		s.customerIndex[customerID] = user.ID
	}
	if _, ok := s.subscriptions[user.ID]; !ok {
		s.subscriptions[user.ID] = &account.Subscription{
			UserID:           user.ID,
			StripeCustomerID: customerID,
			Plan:             user.Plan,
			UpdatedAt:        s.now().UTC(),
		}
	}
}

// GetUserByCustomerID resolves a provider customer id to the local user.
func (s *Store) GetUserByCustomerID(_ context.Context, customerID string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.customerIndex[customerID]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetSubscription returns the subscription row for a user.
func (s *Store) GetSubscription(_ context.Context, userID string) (*account.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, account.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

// UpdateSubscription replaces the subscription row for sub.UserID.
func (s *Store) UpdateSubscription(_ context.Context, sub *account.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("subscription requires a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sub
	copied.UpdatedAt = s.now().UTC()
	s.subscriptions[sub.UserID] = &copied
	if sub.StripeCustomerID != "" {
		s.customerIndex[sub.StripeCustomerID] = sub.UserID
	}
	return nil
}

// SetUserPlan updates the user's plan and entitlement flag.
func (s *Store) SetUserPlan(_ context.Context, userID string, plan account.Plan, hasSubscription bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return account.ErrUserNotFound
	}
	user.Plan = plan
	user.HasSubscription = hasSubscription
	return nil
}

// ReplaceCreditLedgers replaces all ledgers for a user in one step.
func (s *Store) ReplaceCreditLedgers(_ context.Context, userID string, ledgers []account.CreditLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range account.CreditKinds {
		delete(s.ledgers, ledgerKey(userID, kind))
	}
	now := s.now().UTC()
	for _, ledger := range ledgers {
		copied := ledger
		copied.UserID = userID
		copied.UpdatedAt = now
		s.ledgers[ledgerKey(userID, ledger.Kind)] = &copied
	}
	return nil
}

// GetCreditLedger returns a single credit ledger for a user.
func (s *Store) GetCreditLedger(_ context.Context, userID string, kind account.CreditKind) (*account.CreditLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.ledgers[ledgerKey(userID, kind)]
	if !ok {
		return nil, account.ErrLedgerNotFound
	}
	copied := *ledger
	return &copied, nil
}

// ConsumeCredit atomically decrements a ledger and returns the new
// remaining balance.
func (s *Store) ConsumeCredit(_ context.Context, userID string, kind account.CreditKind, amount int) (int, error) {
	if amount <= 0 {
		return 0, account.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger, ok := s.ledgers[ledgerKey(userID, kind)]
	if !ok || ledger.Remaining < amount {
		return 0, account.ErrCreditsExhausted
	}
	ledger.Remaining -= amount
	ledger.UpdatedAt = s.now().UTC()
	return ledger.Remaining, nil
}

// Clear removes all data. Primarily for testing.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*account.User)
	s.customerIndex = make(map[string]string)
	s.subscriptions = make(map[string]*account.Subscription)
	s.ledgers = make(map[string]*account.CreditLedger)
}
