package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrInsufficientScope means the OAuth grant was missing one of the
	// required scopes; nothing may be persisted for the athlete.
	ErrInsufficientScope = errors.New("insufficient oauth scope granted")
	// ErrAthleteNotFound is returned when an athlete cannot be located.
	ErrAthleteNotFound = errors.New("athlete not found")
	// ErrSubscriptionNotFound is returned when a subscription cannot be located.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrPlanNotFound is returned for an unknown subscription plan name.
	ErrPlanNotFound = errors.New("subscription plan not found")
	// ErrCustomerNotFound is the documented recreate-customer trigger: the
	// payment provider no longer knows the stored customer id.
	ErrCustomerNotFound = errors.New("payment customer not found on provider")
)

// AuthError covers token exchange, refresh and revoke failures reported by
// the activity source's OAuth endpoints.
type AuthError struct {
	Op     string // "exchange", "refresh" or "revoke"
	Status int    // HTTP status when available
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SyncError wraps activity fetch failures. Transient errors (network, 5xx,
// rate limits) are retried by the task layer; permanent errors (revoked or
// invalid token) stop sync until the athlete re-authorizes.
type SyncError struct {
	AthleteID int64
	Transient bool
	Err       error
}

func (e *SyncError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("sync failed for athlete %d (%s): %v", e.AthleteID, kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// PaymentError is surfaced untouched to the caller and never retried
// automatically.
type PaymentError struct {
	Op     string
	Status int
	Code   string // provider error code, e.g. "card_declined"
	Err    error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s failed (status %d, code %q): %v", e.Op, e.Status, e.Code, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// ValidationError marks malformed input to a worker or handler entry point.
// It fails fast and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IsRetryable reports whether the task layer should retry the error with
// backoff rather than quarantine it immediately.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Transient
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status >= 500 || authErr.Status == 429 || authErr.Status == 0
	}
	return true
}
