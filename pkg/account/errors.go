package account

import "errors"

var (
	// ErrUserNotFound is returned when no local user matches a provider
	// customer reference.
	ErrUserNotFound = errors.New("user not found")

	// ErrSubscriptionNotFound is returned when a user has no
	// subscription row.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrCreditsExhausted is returned when a consume would take a
	// ledger below zero.
	ErrCreditsExhausted = errors.New("credits exhausted")

	// ErrInvalidAmount is returned for negative consume amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrLedgerNotFound is returned when a user has no credit ledger of
	// the requested kind.
	ErrLedgerNotFound = errors.New("credit ledger not found")
)
