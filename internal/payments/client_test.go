package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "sk_test_123")
}

func TestCreateCustomerSendsFormAndAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok_visa", r.Form.Get("source"))
		require.Equal(t, "ada@example.com", r.Form.Get("email"))
		require.Equal(t, "42", r.Form.Get("metadata[Athlete ID]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cus_1", "email": "ada@example.com"}`))
	})

	client := newTestClient(t, mux)

	customer, err := client.CreateCustomer(context.Background(), CustomerParams{
		CardToken: "tok_visa",
		Email:     "ada@example.com",
		Metadata:  map[string]string{"Athlete ID": "42"},
	})
	require.NoError(t, err)
	require.Equal(t, "cus_1", customer.ID)
}

func TestRetrieveCustomerNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/customers/cus_gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error","message":"No such customer"}}`, http.StatusNotFound)
	})

	client := newTestClient(t, mux)

	_, err := client.RetrieveCustomer(context.Background(), "cus_gone")
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestRetrieveCustomerDeletedFlag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/customers/cus_old", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cus_old", "deleted": true}`))
	})

	client := newTestClient(t, mux)

	customer, err := client.RetrieveCustomer(context.Background(), "cus_old")
	require.NoError(t, err)
	require.True(t, customer.Deleted)
}

func TestCreateChargeCardDeclined(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/charges", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`, http.StatusPaymentRequired)
	})

	client := newTestClient(t, mux)

	_, err := client.CreateCharge(context.Background(), ChargeParams{
		CustomerID:  "cus_1",
		AmountCents: 599,
		Currency:    "usd",
		Description: "Annual PRO",
	})

	var paymentErr *domain.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	require.Equal(t, "charge", paymentErr.Op)
	require.Equal(t, "card_declined", paymentErr.Code)
	require.Equal(t, http.StatusPaymentRequired, paymentErr.Status)
}

func TestCreateChargeSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/charges", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "599", r.Form.Get("amount"))
		require.Equal(t, "usd", r.Form.Get("currency"))
		require.Equal(t, "cus_1", r.Form.Get("customer"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "ch_1", "amount": 599, "currency": "usd", "status": "succeeded"}`))
	})

	client := newTestClient(t, mux)

	charge, err := client.CreateCharge(context.Background(), ChargeParams{
		CustomerID:  "cus_1",
		AmountCents: 599,
		Currency:    "usd",
		Description: "Annual PRO",
	})
	require.NoError(t, err)
	require.Equal(t, "ch_1", charge.ID)
	require.Equal(t, "succeeded", charge.Status)
}
