package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHasProSubscription(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	future := now.Add(30 * 24 * time.Hour)

	tests := []struct {
		name string
		subs []Subscription
		want bool
	}{
		{
			name: "no subscriptions",
			subs: nil,
			want: false,
		},
		{
			name: "expired window",
			subs: []Subscription{{StartedAt: now.AddDate(0, -3, 0), ExpiresAt: &expired}},
			want: false,
		},
		{
			name: "active window",
			subs: []Subscription{{StartedAt: now.AddDate(0, -1, 0), ExpiresAt: &future}},
			want: true,
		},
		{
			name: "lifetime plan",
			subs: []Subscription{{StartedAt: now.AddDate(-2, 0, 0), ExpiresAt: nil}},
			want: true,
		},
		{
			name: "not started yet",
			subs: []Subscription{{StartedAt: now.Add(time.Hour), ExpiresAt: &future}},
			want: false,
		},
		{
			name: "one expired one active",
			subs: []Subscription{
				{StartedAt: now.AddDate(-1, 0, 0), ExpiresAt: &expired},
				{StartedAt: now.AddDate(0, 0, -1), ExpiresAt: &future},
			},
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, HasProSubscription(tc.subs, now))
		})
	}
}

func TestReturningAfterInactivity(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	threshold := 180 * 24 * time.Hour

	require.False(t, ReturningAfterInactivity(Athlete{}, threshold, now), "never-active athlete is not returning")
	require.False(t, ReturningAfterInactivity(Athlete{LastActiveAt: now.AddDate(0, -1, 0)}, threshold, now))
	require.True(t, ReturningAfterInactivity(Athlete{LastActiveAt: now.AddDate(-1, 0, 0)}, threshold, now))
}

func TestTokenExpiringWithin(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.False(t, Athlete{}.TokenExpiringWithin(time.Minute, now), "zero expiry never triggers refresh")
	require.True(t, Athlete{TokenExpiresAt: now.Add(30 * time.Second)}.TokenExpiringWithin(time.Minute, now))
	require.False(t, Athlete{TokenExpiresAt: now.Add(2 * time.Hour)}.TokenExpiringWithin(time.Minute, now))
}

func TestBillingPeriodKey(t *testing.T) {
	exp := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-12-31", Subscription{ExpiresAt: &exp}.BillingPeriodKey())
	require.Equal(t, "lifetime", Subscription{}.BillingPeriodKey())
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&SyncError{Transient: true, Err: errors.New("rate limited")}))
	require.False(t, IsRetryable(&SyncError{Transient: false, Err: errors.New("token revoked")}))
	require.False(t, IsRetryable(&ValidationError{Field: "access_token", Reason: "is blank"}))
	require.False(t, IsRetryable(&PaymentError{Op: "charge", Code: "card_declined"}))
	require.True(t, IsRetryable(&AuthError{Op: "refresh", Status: 503}))
	require.False(t, IsRetryable(&AuthError{Op: "exchange", Status: 401}))
	require.True(t, IsRetryable(errors.New("unclassified")))
}
