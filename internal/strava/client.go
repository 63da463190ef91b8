// Package strava is a typed client over the Strava v3 API: OAuth token
// lifecycle, paginated activity listing, activity detail and deauthorization.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// RequiredScopes must all be present in the granted-scope callback parameter
// for a login to proceed.
var RequiredScopes = []string{"read", "profile:read_all", "activity:read"}

// Config holds the OAuth application credentials and endpoint URLs.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	TokenURL     string
	DeauthURL    string
}

// Client talks to the Strava API. Network failures and 5xx responses are
// retried with bounded exponential backoff; 4xx responses surface immediately.
type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	baseURL    string
	deauthURL  string
	maxRetries uint64
}

// NewClient constructs a Client from application credentials.
func NewClient(cfg Config) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{strings.Join(RequiredScopes, ",")},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		deauthURL:  cfg.DeauthURL,
		maxRetries: 3,
	}
}

// ValidateScopes checks the comma-separated scope string returned on the
// OAuth callback against the required scope set.
func ValidateScopes(granted string) error {
	have := make(map[string]struct{})
	for _, scope := range strings.Split(granted, ",") {
		have[strings.TrimSpace(scope)] = struct{}{}
	}
	for _, required := range RequiredScopes {
		if _, ok := have[required]; !ok {
			return fmt.Errorf("%w: missing %q", domain.ErrInsufficientScope, required)
		}
	}
	return nil
}

// TokenExchange is the result of an authorization-code exchange: the token
// grant plus the athlete profile Strava embeds in the response.
type TokenExchange struct {
	Grant   domain.TokenGrant
	Athlete AthleteProfile
}

// Exchange swaps an authorization code for tokens and the athlete profile.
func (c *Client) Exchange(ctx context.Context, code string) (TokenExchange, error) {
	token, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return TokenExchange{}, authError("exchange", err)
	}

	var profile AthleteProfile
	if raw := token.Extra("athlete"); raw != nil {
		body, marshalErr := json.Marshal(raw)
		if marshalErr == nil {
			_ = json.Unmarshal(body, &profile)
		}
	}
	if profile.ID == 0 {
		return TokenExchange{}, &domain.AuthError{Op: "exchange", Err: errors.New("token response missing athlete profile")}
	}

	return TokenExchange{
		Grant: domain.TokenGrant{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
		},
		Athlete: profile,
	}, nil
}

// Refresh exchanges a refresh token for a fresh grant. Strava rotates the
// refresh token, so callers must persist the returned one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	source := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return domain.TokenGrant{}, authError("refresh", err)
	}
	return domain.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Revoke invalidates an access token upstream.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.AuthError{Op: "revoke", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &domain.AuthError{Op: "revoke", Status: resp.StatusCode, Err: fmt.Errorf("deauthorize returned %s", resp.Status)}
	}
	return nil
}

// ListActivities fetches one page of the athlete's activities started after
// the given cursor, ascending by start date.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]SummaryActivity, error) {
	endpoint := fmt.Sprintf("%s/athlete/activities?after=%d&page=%d&per_page=%d", c.baseURL, after, page, perPage)
	var activities []SummaryActivity
	if err := c.getJSON(ctx, accessToken, endpoint, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches the detailed record for one activity, including the
// source-computed best-effort entries.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (DetailedActivity, error) {
	endpoint := c.baseURL + "/activities/" + strconv.FormatInt(activityID, 10)
	var activity DetailedActivity
	if err := c.getJSON(ctx, accessToken, endpoint, &activity); err != nil {
		return DetailedActivity{}, err
	}
	return activity, nil
}

// apiError is a non-2xx response from an API (non-token) endpoint.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("strava api returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether the task layer may retry the request.
func (e *apiError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

func (c *Client) getJSON(ctx context.Context, accessToken, endpoint string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network errors retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			apiErr := &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			if apiErr.Retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		return json.NewDecoder(resp.Body).Decode(out)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

// StatusCode returns the HTTP status carried by a client error, or 0 when
// the error has no response attached.
func StatusCode(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// IsTransient classifies a client error for the sync layer's retry decision.
func IsTransient(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return authErr.Status >= 500 || authErr.Status == 0
	}
	// Undecoded errors are assumed to be network level.
	return true
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func authError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &domain.AuthError{Op: op, Status: retrieveErr.Response.StatusCode, Err: err}
	}
	return &domain.AuthError{Op: op, Err: err}
}
