// Package payments is a client for the Stripe-compatible payment provider
// API: customer create/retrieve/update and charge creation. Provider errors
// surface as domain.PaymentError and are never retried here.
package payments

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

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// Customer is the provider-side customer record.
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

// Charge is the provider-side charge record.
type Charge struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// CustomerParams carries the fields sent on customer create/update.
type CustomerParams struct {
	CardToken string
	Email     string
	Metadata  map[string]string
}

// ChargeParams carries the fields sent on charge creation.
type ChargeParams struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Client calls the provider's REST API with form-encoded bodies.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RetrieveCustomer fetches a customer by provider id. A 404 maps to
// domain.ErrCustomerNotFound, the documented recreate trigger.
func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (Customer, error) {
	var customer Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+customerID, nil, &customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// CreateCustomer creates a new provider customer backed by the card token.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error) {
	form := url.Values{}
	form.Set("source", params.CardToken)
	form.Set("email", params.Email)
	encodeMetadata(form, params.Metadata)

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", form, &customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// UpdateCustomer replaces the default payment source on an existing customer.
func (c *Client) UpdateCustomer(ctx context.Context, customerID, cardToken string) (Customer, error) {
	form := url.Values{}
	form.Set("source", cardToken)

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers/"+customerID, form, &customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// CreateCharge creates one charge against a customer.
func (c *Client) CreateCharge(ctx context.Context, params ChargeParams) (Charge, error) {
	form := url.Values{}
	form.Set("customer", params.CustomerID)
	form.Set("amount", strconv.FormatInt(params.AmountCents, 10))
	form.Set("currency", params.Currency)
	form.Set("description", params.Description)
	encodeMetadata(form, params.Metadata)

	var charge Charge
	if err := c.do(ctx, http.MethodPost, "/charges", form, &charge); err != nil {
		return Charge{}, err
	}
	return charge, nil
}

// providerError models the provider's error envelope.
type providerError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.PaymentError{Op: opFromPath(method, path), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, path)
	}
	if resp.StatusCode >= 400 {
		var envelope providerError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &envelope)
		return &domain.PaymentError{
			Op:     opFromPath(method, path),
			Status: resp.StatusCode,
			Code:   envelope.Error.Code,
			Err:    errors.New(firstNonEmpty(envelope.Error.Message, strings.TrimSpace(string(raw)))),
		}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeMetadata(form url.Values, metadata map[string]string) {
	for key, value := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}
}

func opFromPath(method, path string) string {
	if strings.HasPrefix(path, "/charges") {
		return "charge"
	}
	if method == http.MethodGet {
		return "retrieve_customer"
	}
	return "upsert_customer"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "provider error"
}
