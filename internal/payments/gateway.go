package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending" // still in progress at the gateway
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutRequest struct {
	TransactionID uuid.UUID
	Amount        int64 // minor units, fee included
	Email         string
	Currency      string
	CallbackURL   string
	Metadata      map[string]any
}

type CheckoutSession struct {
	RedirectURL string `json:"redirect_url"`
	SessionRef  string `json:"session_ref"`
}

// PaymentOutcome is what the gateway reports for a checkout session,
// either pushed through the webhook or pulled with VerifyPayment.
type PaymentOutcome struct {
	SessionRef string
	Outcome    Outcome
	Amount     int64
	Currency   string
	Message    string
}

// Gateway is a hosted-checkout payment provider.
type Gateway interface {
	InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	VerifyPayment(ctx context.Context, sessionRef string) (*PaymentOutcome, error)
}
