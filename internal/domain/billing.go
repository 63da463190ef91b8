package domain

import (
	"fmt"
	"time"
)

// SubscriptionPlan is a static reference plan. DurationDays zero means
// lifetime. Amount is in major currency units (dollars).
type SubscriptionPlan struct {
	ID             int
	Name           string
	Description    string
	DurationDays   int
	Amount         float64
	AmountPerMonth float64
}

// IsLifetime reports whether the plan never expires.
func (p SubscriptionPlan) IsLifetime() bool { return p.DurationDays == 0 }

// IsFree reports whether charging the plan moves no money.
func (p SubscriptionPlan) IsFree() bool { return p.Amount == 0 }

// AmountMinorUnits is the charge amount in provider minor units (cents).
func (p SubscriptionPlan) AmountMinorUnits() int64 {
	return int64(p.Amount * 100)
}

// Subscription is one granted or purchased plan window. Renewals and upgrades
// supersede by inserting a new row; rows are never deleted except with the
// owning athlete.
type Subscription struct {
	ID        string // uuid
	AthleteID int64
	PlanName  string
	StartedAt time.Time
	ExpiresAt *time.Time // nil for lifetime plans
	CreatedAt time.Time
}

// CoversInstant reports whether the subscription window includes t.
func (s Subscription) CoversInstant(t time.Time) bool {
	if s.StartedAt.After(t) {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}

// BillingPeriodKey identifies the billing period a renewal charge belongs to,
// used as half of the charge idempotency key.
func (s Subscription) BillingPeriodKey() string {
	if s.ExpiresAt == nil {
		return "lifetime"
	}
	return s.ExpiresAt.UTC().Format("2006-01-02")
}

// PaymentCustomer binds an athlete to the payment provider's customer record.
// Created lazily on first charge and recreated if the provider reports it
// deleted.
type PaymentCustomer struct {
	AthleteID  int64
	CustomerID string
	Email      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChargeRecord is the local audit row for one provider charge, unique per
// (subscription, billing period) so renewals never double-charge.
type ChargeRecord struct {
	ID               string // uuid
	SubscriptionID   string
	PeriodKey        string
	ProviderChargeID string
	AmountCents      int64
	CreatedAt        time.Time
}

// ChargeResult reports the outcome of a charge or renewal.
type ChargeResult struct {
	Subscription     Subscription
	ProviderChargeID string
	AmountCents      int64
	Skipped          bool // true for zero-amount plans and replayed renewals
}

func (r ChargeResult) String() string {
	if r.Skipped {
		return fmt.Sprintf("charge skipped for subscription %s", r.Subscription.ID)
	}
	return fmt.Sprintf("charged %d cents for subscription %s", r.AmountCents, r.Subscription.ID)
}
