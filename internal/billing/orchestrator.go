// Package billing orchestrates plan grants, charges and renewals against the
// payment provider and the local subscription ledger.
package billing

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/payments"
	"github.com/emilgoldsmith/strafforts/internal/reference"
)

// Repository is the subscription and payment-ledger surface the orchestrator
// writes through.
type Repository interface {
	InsertSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	ListSubscriptions(ctx context.Context, athleteID int64) ([]domain.Subscription, error)
	ListExpiringSubscriptions(ctx context.Context, now time.Time, window time.Duration) ([]domain.Subscription, error)
	HasPlanGrant(ctx context.Context, athleteID int64, planName string) (bool, error)
	GetPaymentCustomer(ctx context.Context, athleteID int64) (domain.PaymentCustomer, error)
	SavePaymentCustomer(ctx context.Context, customer domain.PaymentCustomer) error
	RecordCharge(ctx context.Context, charge domain.ChargeRecord) (bool, error)
	HasChargeForPeriod(ctx context.Context, subscriptionID, periodKey string) (bool, error)
}

// Provider is the payment-provider surface the orchestrator depends on.
type Provider interface {
	RetrieveCustomer(ctx context.Context, customerID string) (payments.Customer, error)
	CreateCustomer(ctx context.Context, params payments.CustomerParams) (payments.Customer, error)
	UpdateCustomer(ctx context.Context, customerID, cardToken string) (payments.Customer, error)
	CreateCharge(ctx context.Context, params payments.ChargeParams) (payments.Charge, error)
}

// Config carries the promotional toggles and renewal window.
type Config struct {
	Currency            string
	EarlyBirdsEnabled   bool
	OldMatesEnabled     bool
	InactivityThreshold time.Duration
	RenewalWindow       time.Duration
}

// Orchestrator applies the billing rules on top of the provider client.
type Orchestrator struct {
	repo     Repository
	provider Provider
	cfg      Config
	now      func() time.Time
	newID    func() string
}

// New constructs an Orchestrator.
func New(repo Repository, provider Provider, cfg Config) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Orchestrator{
		repo:     repo,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Grant opens a subscription window for the named plan without touching the
// payment provider. Used for free and promotional plans.
func (o *Orchestrator) Grant(ctx context.Context, athleteID int64, planName string) (domain.Subscription, error) {
	plan, ok := reference.SubscriptionPlanByName(planName)
	if !ok {
		return domain.Subscription{}, domain.ErrPlanNotFound
	}
	return o.openWindow(ctx, athleteID, plan, o.now())
}

// Charge runs the paid-signup flow: resolve or recreate the provider
// customer, charge the plan amount and only then open the subscription
// window, so a declined card never leaves a subscription behind. Zero-amount
// plans still resolve a customer but skip the charge itself.
func (o *Orchestrator) Charge(ctx context.Context, athlete domain.Athlete, planName, cardToken string) (domain.ChargeResult, error) {
	plan, ok := reference.SubscriptionPlanByName(planName)
	if !ok {
		return domain.ChargeResult{}, domain.ErrPlanNotFound
	}

	if cardToken == "" {
		return domain.ChargeResult{}, &domain.ValidationError{Field: "card_token", Reason: "must not be blank"}
	}

	customer, err := o.resolveCustomer(ctx, athlete, cardToken)
	if err != nil {
		return domain.ChargeResult{}, err
	}

	if plan.IsFree() {
		sub, err := o.openWindow(ctx, athlete.ID, plan, o.now())
		if err != nil {
			return domain.ChargeResult{}, err
		}
		return domain.ChargeResult{Subscription: sub, Skipped: true}, nil
	}

	charge, err := o.chargePlan(ctx, customer.CustomerID, athlete.ID, plan)
	if err != nil {
		return domain.ChargeResult{}, err
	}

	sub, err := o.openWindow(ctx, athlete.ID, plan, o.now())
	if err != nil {
		return domain.ChargeResult{}, err
	}

	if _, err := o.repo.RecordCharge(ctx, domain.ChargeRecord{
		ID:               o.newID(),
		SubscriptionID:   sub.ID,
		PeriodKey:        sub.BillingPeriodKey(),
		ProviderChargeID: charge.ID,
		AmountCents:      charge.Amount,
	}); err != nil {
		return domain.ChargeResult{}, err
	}

	chargesCounter.WithLabelValues(plan.Name).Inc()
	return domain.ChargeResult{
		Subscription:     sub,
		ProviderChargeID: charge.ID,
		AmountCents:      charge.Amount,
	}, nil
}

// Renew extends one expiring paid subscription by a further plan duration and
// charges for it. The charge is keyed on the expiring window's billing
// period, so replaying a sweep never double-charges. Free plans lapse.
func (o *Orchestrator) Renew(ctx context.Context, sub domain.Subscription) (domain.ChargeResult, error) {
	plan, ok := reference.SubscriptionPlanByName(sub.PlanName)
	if !ok {
		return domain.ChargeResult{}, domain.ErrPlanNotFound
	}
	if plan.IsFree() || plan.IsLifetime() || sub.ExpiresAt == nil {
		return domain.ChargeResult{Subscription: sub, Skipped: true}, nil
	}

	periodKey := sub.BillingPeriodKey()
	charged, err := o.repo.HasChargeForPeriod(ctx, sub.ID, periodKey)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if charged {
		return domain.ChargeResult{Subscription: sub, Skipped: true}, nil
	}

	stored, err := o.repo.GetPaymentCustomer(ctx, sub.AthleteID)
	if err != nil {
		return domain.ChargeResult{}, err
	}

	charge, err := o.chargePlan(ctx, stored.CustomerID, sub.AthleteID, plan)
	if err != nil {
		return domain.ChargeResult{}, err
	}

	if _, err := o.repo.RecordCharge(ctx, domain.ChargeRecord{
		ID:               o.newID(),
		SubscriptionID:   sub.ID,
		PeriodKey:        periodKey,
		ProviderChargeID: charge.ID,
		AmountCents:      charge.Amount,
	}); err != nil {
		return domain.ChargeResult{}, err
	}

	next, err := o.openWindow(ctx, sub.AthleteID, plan, *sub.ExpiresAt)
	if err != nil {
		return domain.ChargeResult{}, err
	}

	renewalsCounter.WithLabelValues(plan.Name).Inc()
	return domain.ChargeResult{
		Subscription:     next,
		ProviderChargeID: charge.ID,
		AmountCents:      charge.Amount,
	}, nil
}

// RenewDue runs one renewal sweep over subscriptions expiring inside the
// configured window. Individual failures are logged and skipped so one bad
// card does not stall the sweep.
func (o *Orchestrator) RenewDue(ctx context.Context) (int, error) {
	due, err := o.repo.ListExpiringSubscriptions(ctx, o.now(), o.cfg.RenewalWindow)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, sub := range due {
		result, err := o.Renew(ctx, sub)
		if err != nil {
			renewalFailures.Inc()
			log.Printf("billing: renewal failed for subscription %s (athlete %d): %v", sub.ID, sub.AthleteID, err)
			continue
		}
		if !result.Skipped {
			renewed++
		}
	}
	return renewed, nil
}

// MaybeGrantPromotions applies the login-time promotional grants. Athletes
// already holding a live PRO window get nothing; each promo plan is granted
// at most once per athlete, and failures are logged rather than surfaced: a
// promo must never break a login.
func (o *Orchestrator) MaybeGrantPromotions(ctx context.Context, athlete domain.Athlete) {
	if !o.cfg.EarlyBirdsEnabled && !o.cfg.OldMatesEnabled {
		return
	}

	pro, err := o.IsPro(ctx, athlete.ID)
	if err != nil {
		log.Printf("billing: promo eligibility check failed for athlete %d: %v", athlete.ID, err)
		return
	}
	if pro {
		return
	}

	if o.cfg.EarlyBirdsEnabled {
		o.grantPromoOnce(ctx, athlete.ID, "Early Birds PRO")
	}
	if o.cfg.OldMatesEnabled && domain.ReturningAfterInactivity(athlete, o.cfg.InactivityThreshold, o.now()) {
		o.grantPromoOnce(ctx, athlete.ID, "Old Mates PRO")
	}
}

func (o *Orchestrator) grantPromoOnce(ctx context.Context, athleteID int64, planName string) {
	granted, err := o.repo.HasPlanGrant(ctx, athleteID, planName)
	if err != nil {
		log.Printf("billing: promo check failed for athlete %d plan %q: %v", athleteID, planName, err)
		return
	}
	if granted {
		return
	}
	if _, err := o.Grant(ctx, athleteID, planName); err != nil {
		log.Printf("billing: promo grant failed for athlete %d plan %q: %v", athleteID, planName, err)
		return
	}
	promoGrants.WithLabelValues(planName).Inc()
}

// IsPro reports whether any of the athlete's subscription windows covers now.
func (o *Orchestrator) IsPro(ctx context.Context, athleteID int64) (bool, error) {
	subs, err := o.repo.ListSubscriptions(ctx, athleteID)
	if err != nil {
		return false, err
	}
	return domain.HasProSubscription(subs, o.now()), nil
}

func (o *Orchestrator) openWindow(ctx context.Context, athleteID int64, plan domain.SubscriptionPlan, startedAt time.Time) (domain.Subscription, error) {
	sub := domain.Subscription{
		ID:        o.newID(),
		AthleteID: athleteID,
		PlanName:  plan.Name,
		StartedAt: startedAt,
	}
	if !plan.IsLifetime() {
		expires := startedAt.AddDate(0, 0, plan.DurationDays)
		sub.ExpiresAt = &expires
	}
	return o.repo.InsertSubscription(ctx, sub)
}

// chargePlan charges the plan amount, recreating the provider customer if it
// reports the stored one gone or deleted.
func (o *Orchestrator) chargePlan(ctx context.Context, customerID string, athleteID int64, plan domain.SubscriptionPlan) (payments.Charge, error) {
	return o.provider.CreateCharge(ctx, payments.ChargeParams{
		CustomerID:  customerID,
		AmountCents: plan.AmountMinorUnits(),
		Currency:    o.cfg.Currency,
		Description: plan.Description,
		Metadata:    map[string]string{"Athlete ID": strconv.FormatInt(athleteID, 10)},
	})
}

// resolveCustomer returns a live provider customer for the athlete, creating
// or recreating one as needed and keeping the local binding current.
func (o *Orchestrator) resolveCustomer(ctx context.Context, athlete domain.Athlete, cardToken string) (domain.PaymentCustomer, error) {
	stored, err := o.repo.GetPaymentCustomer(ctx, athlete.ID)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return o.createCustomer(ctx, athlete, cardToken)
	}
	if err != nil {
		return domain.PaymentCustomer{}, err
	}

	remote, err := o.provider.RetrieveCustomer(ctx, stored.CustomerID)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		customersRecreated.Inc()
		return o.createCustomer(ctx, athlete, cardToken)
	}
	if err != nil {
		return domain.PaymentCustomer{}, err
	}
	if remote.Deleted {
		customersRecreated.Inc()
		return o.createCustomer(ctx, athlete, cardToken)
	}

	if _, err := o.provider.UpdateCustomer(ctx, stored.CustomerID, cardToken); err != nil {
		return domain.PaymentCustomer{}, err
	}
	return stored, nil
}

func (o *Orchestrator) createCustomer(ctx context.Context, athlete domain.Athlete, cardToken string) (domain.PaymentCustomer, error) {
	remote, err := o.provider.CreateCustomer(ctx, payments.CustomerParams{
		CardToken: cardToken,
		Email:     athlete.Email,
		Metadata:  map[string]string{"Athlete ID": strconv.FormatInt(athlete.ID, 10)},
	})
	if err != nil {
		return domain.PaymentCustomer{}, err
	}

	customer := domain.PaymentCustomer{
		AthleteID:  athlete.ID,
		CustomerID: remote.ID,
		Email:      athlete.Email,
	}
	if err := o.repo.SavePaymentCustomer(ctx, customer); err != nil {
		return domain.PaymentCustomer{}, err
	}
	return customer, nil
}
