package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// InsertSubscription records a new subscription window. Renewals insert a
// fresh row; prior windows are kept for audit.
func (r *Repository) InsertSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	const query = `INSERT INTO subscriptions (id, athlete_id, plan_name, started_at, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		RETURNING id, athlete_id, plan_name, started_at, expires_at, created_at`

	row := r.pool.QueryRow(ctx, query, sub.ID, sub.AthleteID, sub.PlanName, sub.StartedAt, sub.ExpiresAt)
	return scanSubscription(row)
}

// GetSubscription fetches one subscription by id.
func (r *Repository) GetSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, athlete_id, plan_name, started_at, expires_at, created_at FROM subscriptions WHERE id = $1`,
		subscriptionID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, err
}

// ListSubscriptions returns all subscription windows for an athlete, newest
// first.
func (r *Repository) ListSubscriptions(ctx context.Context, athleteID int64) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, athlete_id, plan_name, started_at, expires_at, created_at
		 FROM subscriptions WHERE athlete_id = $1 ORDER BY started_at DESC`, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// HasPlanGrant reports whether the athlete was ever granted the named plan.
// Promotional plans are non-repeatable per athlete.
func (r *Repository) HasPlanGrant(ctx context.Context, athleteID int64, planName string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE athlete_id = $1 AND plan_name = $2)`,
		athleteID, planName).Scan(&exists)
	return exists, err
}

// ListExpiringSubscriptions returns the newest subscription per athlete whose
// window ends inside [now, now+window); the renewal sweep's work list.
func (r *Repository) ListExpiringSubscriptions(ctx context.Context, now time.Time, window time.Duration) ([]domain.Subscription, error) {
	const query = `SELECT DISTINCT ON (athlete_id) id, athlete_id, plan_name, started_at, expires_at, created_at
		FROM subscriptions
		WHERE expires_at IS NOT NULL AND expires_at >= $1 AND expires_at < $2
		ORDER BY athlete_id, expires_at DESC`

	rows, err := r.pool.Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	if err := row.Scan(&sub.ID, &sub.AthleteID, &sub.PlanName, &sub.StartedAt, &sub.ExpiresAt, &sub.CreatedAt); err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

// GetPaymentCustomer returns the locally stored provider customer binding.
func (r *Repository) GetPaymentCustomer(ctx context.Context, athleteID int64) (domain.PaymentCustomer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT athlete_id, customer_id, email, created_at, updated_at FROM payment_customers WHERE athlete_id = $1`,
		athleteID)
	var customer domain.PaymentCustomer
	err := row.Scan(&customer.AthleteID, &customer.CustomerID, &customer.Email, &customer.CreatedAt, &customer.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentCustomer{}, domain.ErrCustomerNotFound
	}
	return customer, err
}

// SavePaymentCustomer creates or overwrites the athlete's provider customer
// binding; overwriting is the stale-customer recovery path.
func (r *Repository) SavePaymentCustomer(ctx context.Context, customer domain.PaymentCustomer) error {
	const query = `INSERT INTO payment_customers (athlete_id, customer_id, email, created_at, updated_at)
		VALUES ($1,$2,$3,NOW(),NOW())
		ON CONFLICT (athlete_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			email = EXCLUDED.email,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, customer.AthleteID, customer.CustomerID, customer.Email)
	return err
}

// RecordCharge stores the audit row for a provider charge. The unique
// constraint on (subscription_id, period_key) makes renewal idempotent; a
// replay reports inserted = false.
func (r *Repository) RecordCharge(ctx context.Context, charge domain.ChargeRecord) (bool, error) {
	const query = `INSERT INTO charges (id, subscription_id, period_key, provider_charge_id, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (subscription_id, period_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, charge.ID, charge.SubscriptionID, charge.PeriodKey,
		charge.ProviderChargeID, charge.AmountCents)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasChargeForPeriod reports whether a charge was already recorded for the
// subscription's billing period.
func (r *Repository) HasChargeForPeriod(ctx context.Context, subscriptionID, periodKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM charges WHERE subscription_id = $1 AND period_key = $2)`,
		subscriptionID, periodKey).Scan(&exists)
	return exists, err
}
