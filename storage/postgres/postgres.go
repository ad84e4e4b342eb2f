// Package postgres provides a PostgreSQL implementation of the
// account.Store interface. Credit consumption uses SQL transactions
// with SELECT FOR UPDATE so concurrent decrements never go negative.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
)

// Store implements account.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetUserByCustomerID implements account.Store.
func (s *Store) GetUserByCustomerID(ctx context.Context, customerID string) (*account.User, error) {
	var user account.User
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.plan, u.has_subscription
			FROM users u
			JOIN subscriptions sub ON sub.user_id = u.id
			WHERE sub.stripe_customer_id = $1`,
		customerID).Scan(&user.ID, &user.Plan, &user.HasSubscription)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by customer id: %w", err)
	}
	return &user, nil
}

// GetSubscription implements account.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*account.Subscription, error) {
	var sub account.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, stripe_customer_id, stripe_sub_id, status, plan, billing_interval,
				current_period_start, current_period_end, trial_ends_at, cancel_at_period_end,
				pm_brand, pm_last4, pm_exp_month, pm_exp_year, updated_at
			FROM subscriptions WHERE user_id = $1`,
		userID).Scan(
		&sub.UserID,
		&sub.StripeCustomerID,
		&sub.StripeSubID,
		&sub.Status,
		&sub.Plan,
		&sub.BillingInterval,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.TrialEndsAt,
		&sub.CancelAtPeriodEnd,
		&sub.PaymentMethod.Brand,
		&sub.PaymentMethod.Last4,
		&sub.PaymentMethod.ExpMonth,
		&sub.PaymentMethod.ExpYear,
		&sub.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// UpdateSubscription implements account.Store.
func (s *Store) UpdateSubscription(ctx context.Context, sub *account.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("subscription requires a user id")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
				(user_id, stripe_customer_id, stripe_sub_id, status, plan, billing_interval,
				 current_period_start, current_period_end, trial_ends_at, cancel_at_period_end,
				 pm_brand, pm_last4, pm_exp_month, pm_exp_year, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (user_id) DO UPDATE SET
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				stripe_sub_id = EXCLUDED.stripe_sub_id,
				status = EXCLUDED.status,
				plan = EXCLUDED.plan,
				billing_interval = EXCLUDED.billing_interval,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				trial_ends_at = EXCLUDED.trial_ends_at,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				pm_brand = EXCLUDED.pm_brand,
				pm_last4 = EXCLUDED.pm_last4,
				pm_exp_month = EXCLUDED.pm_exp_month,
				pm_exp_year = EXCLUDED.pm_exp_year,
				updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.StripeCustomerID, sub.StripeSubID, string(sub.Status),
		string(sub.Plan), string(sub.BillingInterval),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt, sub.CancelAtPeriodEnd,
		sub.PaymentMethod.Brand, sub.PaymentMethod.Last4,
		sub.PaymentMethod.ExpMonth, sub.PaymentMethod.ExpYear,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// SetUserPlan implements account.Store.
func (s *Store) SetUserPlan(ctx context.Context, userID string, plan account.Plan, hasSubscription bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan = $2, has_subscription = $3 WHERE id = $1`,
		userID, string(plan), hasSubscription,
	)
	if err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrUserNotFound
	}
	return nil
}

// ReplaceCreditLedgers implements account.Store. The delete and the
// inserts run in one transaction so a paid-period reset is all-or-nothing.
func (s *Store) ReplaceCreditLedgers(ctx context.Context, userID string, ledgers []account.CreditLedger) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM credit_ledgers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear credit ledgers: %w", err)
	}

	now := time.Now().UTC()
	for _, ledger := range ledgers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO credit_ledgers
					(user_id, kind, remaining, allotment, period_start, period_end, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			userID, string(ledger.Kind), ledger.Remaining, ledger.Allotment,
			ledger.PeriodStart, ledger.PeriodEnd, now,
		); err != nil {
			return fmt.Errorf("failed to insert credit ledger %s: %w", ledger.Kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetCreditLedger implements account.Store.
func (s *Store) GetCreditLedger(ctx context.Context, userID string, kind account.CreditKind) (*account.CreditLedger, error) {
	var ledger account.CreditLedger
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, kind, remaining, allotment, period_start, period_end, updated_at
			FROM credit_ledgers WHERE user_id = $1 AND kind = $2`,
		userID, string(kind)).Scan(
		&ledger.UserID,
		&ledger.Kind,
		&ledger.Remaining,
		&ledger.Allotment,
		&ledger.PeriodStart,
		&ledger.PeriodEnd,
		&ledger.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit ledger: %w", err)
	}
	return &ledger, nil
}

// ConsumeCredit implements account.Store with an atomic decrement via
// a row-level lock.
func (s *Store) ConsumeCredit(ctx context.Context, userID string, kind account.CreditKind, amount int) (int, error) {
	if amount <= 0 {
		return 0, account.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var remaining int
	err = tx.QueryRow(ctx,
		`SELECT remaining FROM credit_ledgers
			WHERE user_id = $1 AND kind = $2
			FOR UPDATE`,
		userID, string(kind)).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, account.ErrCreditsExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock credit ledger: %w", err)
	}

	if remaining < amount {
		return 0, account.ErrCreditsExhausted
	}
	remaining -= amount

	if _, err := tx.Exec(ctx,
		`UPDATE credit_ledgers SET remaining = $3, updated_at = $4
			WHERE user_id = $1 AND kind = $2`,
		userID, string(kind), remaining, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("failed to update credit ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return remaining, nil
}
