// Package domain defines the business entities and error taxonomy shared by
// every component of the service.
package domain

import "time"

// Athlete is the aggregate root. All derived records (activities, races, best
// efforts, subscriptions, payment customer) are owned by exactly one athlete
// and purged with it on deauthorization.
type Athlete struct {
	ID                 int64 // Strava athlete id, also the primary key.
	FirstName          string
	LastName           string
	Email              string
	ProfileURL         string
	AccessToken        string
	RefreshToken       string
	TokenExpiresAt     time.Time
	IsActive           bool
	EmailConfirmed     bool
	ConfirmationToken  string
	TotalRunCount      int
	LastActivityCursor int64 // Unix timestamp of the last committed sync page.
	LastActiveAt       time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TokenGrant is the result of an authorization-code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenExpiringWithin reports whether the stored access token needs a refresh
// before it can be used for a call starting now.
func (a Athlete) TokenExpiringWithin(window time.Duration, now time.Time) bool {
	if a.TokenExpiresAt.IsZero() {
		return false
	}
	return !a.TokenExpiresAt.After(now.Add(window))
}

// HasProSubscription reports whether any subscription window covers now.
// Lifetime plans have no expiry and always qualify.
func HasProSubscription(subs []Subscription, now time.Time) bool {
	for _, sub := range subs {
		if sub.CoversInstant(now) {
			return true
		}
	}
	return false
}

// ReturningAfterInactivity reports whether the athlete's last recorded
// activity predates the inactivity threshold. Athletes without any recorded
// activity yet are not considered returning.
func ReturningAfterInactivity(a Athlete, threshold time.Duration, now time.Time) bool {
	if a.LastActiveAt.IsZero() {
		return false
	}
	return now.Sub(a.LastActiveAt) >= threshold
}
