// Package mailinglist manages list membership on the upstream email
// provider. Membership follows email confirmation: confirmed addresses are
// subscribed, deauthorized athletes are removed.
package mailinglist

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Manager defines the list membership contract.
type Manager interface {
	Subscribe(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) error
}

// NoopManager is a no-op implementation for deployments without a list.
type NoopManager struct{}

// Subscribe performs no action.
func (NoopManager) Subscribe(context.Context, string) error { return nil }

// Unsubscribe performs no action.
func (NoopManager) Unsubscribe(context.Context, string) error { return nil }

// HTTPManager calls the provider's list membership endpoint.
type HTTPManager struct {
	client *http.Client
	url    string
	apiKey string
}

// NewHTTPManager constructs an HTTPManager against the provider endpoint.
func NewHTTPManager(endpoint, apiKey string, timeout time.Duration) *HTTPManager {
	return &HTTPManager{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		apiKey: apiKey,
	}
}

// Subscribe adds the address to the list.
func (m *HTTPManager) Subscribe(ctx context.Context, email string) error {
	return m.post(ctx, "/members", email, "subscribed")
}

// Unsubscribe removes the address from the list.
func (m *HTTPManager) Unsubscribe(ctx context.Context, email string) error {
	return m.post(ctx, "/members", email, "unsubscribed")
}

func (m *HTTPManager) post(ctx context.Context, path, email, status string) error {
	body, err := json.Marshal(map[string]string{
		"email_address": email,
		"status":        status,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &MembershipError{Status: resp.StatusCode}
	}
	return nil
}

// MembershipError represents a non-successful membership response.
type MembershipError struct {
	Status int
}

func (e *MembershipError) Error() string {
	return "mailing list update failed with status " + http.StatusText(e.Status)
}
