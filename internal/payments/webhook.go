package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const SignatureHeader = "x-paystack-signature"

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		Status          string `json:"status"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

// Sign returns the hex HMAC-SHA512 of body keyed with the secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook authenticates a gateway callback and extracts the payment outcome.
// ok is false for events that carry no outcome (e.g. transfer or subscription events).
func ParseWebhook(secret string, body []byte, signature string) (outcome *PaymentOutcome, ok bool, err error) {
	if !VerifySignature(secret, body, signature) {
		return nil, false, ErrInvalidSignature
	}

	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, false, fmt.Errorf("invalid webhook body: %w", err)
	}

	var o Outcome
	switch wb.Event {
	case "charge.success":
		o = OutcomeSuccess
	case "charge.failed":
		o = OutcomeFailed
	default:
		return nil, false, nil
	}
	if wb.Data.Reference == "" {
		return nil, false, fmt.Errorf("webhook %s without reference", wb.Event)
	}

	return &PaymentOutcome{
		SessionRef: wb.Data.Reference,
		Outcome:    o,
		Amount:     wb.Data.Amount,
		Currency:   wb.Data.Currency,
		Message:    wb.Data.GatewayResponse,
	}, true, nil
}
