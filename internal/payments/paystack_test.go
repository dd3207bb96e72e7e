package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitiateCheckout(t *testing.T) {
	txID := uuid.New()
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.example/abc","access_code":"abc","reference":"` + got["reference"].(string) + `"}}`))
	}))
	defer srv.Close()

	c := NewPaystackClient(srv.URL+"/", "sk_test", zap.NewNop())
	session, err := c.InitiateCheckout(context.Background(), CheckoutRequest{
		TransactionID: txID,
		Amount:        102500,
		Email:         "ada@example.com",
		Currency:      "NGN",
		CallbackURL:   "https://app.example/escrow/callback",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.example/abc", session.RedirectURL)
	assert.True(t, strings.HasPrefix(session.SessionRef, "esc_"+strings.ReplaceAll(txID.String(), "-", "")))
	assert.EqualValues(t, 102500, got["amount"])
	assert.Equal(t, "ada@example.com", got["email"])
	assert.Equal(t, "NGN", got["currency"])
}

func TestInitiateCheckoutGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	c := NewPaystackClient(srv.URL, "bad", zap.NewNop())
	_, err := c.InitiateCheckout(context.Background(), CheckoutRequest{TransactionID: uuid.New(), Amount: 100, Email: "a@b.co"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestVerifyPaymentOutcomes(t *testing.T) {
	tests := []struct {
		status string
		want   Outcome
	}{
		{"success", OutcomeSuccess},
		{"failed", OutcomeFailed},
		{"abandoned", OutcomeFailed},
		{"reversed", OutcomeFailed},
		{"ongoing", OutcomePending},
		{"pending", OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/verify/esc_ref", r.URL.Path)
				_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"` + tt.status + `","reference":"esc_ref","amount":102500,"currency":"NGN"}}`))
			}))
			defer srv.Close()

			c := NewPaystackClient(srv.URL, "sk_test", zap.NewNop())
			out, err := c.VerifyPayment(context.Background(), "esc_ref")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Outcome)
			assert.Equal(t, "esc_ref", out.SessionRef)
			assert.EqualValues(t, 102500, out.Amount)
		})
	}
}
