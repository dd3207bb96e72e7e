package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/metrics"
	"go.uber.org/zap"
)

// PaystackClient talks to a Paystack-compatible hosted checkout API.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPaystackClient(baseURL, secretKey string, log *zap.Logger) *PaystackClient {
	return &PaystackClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
}

// NewSessionRef builds a unique checkout reference for a transaction.
func NewSessionRef(transactionID uuid.UUID) string {
	return fmt.Sprintf("esc_%s_%s", strings.ReplaceAll(transactionID.String(), "-", ""), uuid.NewString()[:8])
}

func (c *PaystackClient) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body, err := json.Marshal(map[string]any{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"reference":    NewSessionRef(req.TransactionID),
		"callback_url": req.CallbackURL,
		"metadata":     req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var out paystackEnvelope[initializeData]
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("checkout not initialized: %s", out.Message)
	}

	return &CheckoutSession{
		RedirectURL: out.Data.AuthorizationURL,
		SessionRef:  out.Data.Reference,
	}, nil
}

func (c *PaystackClient) VerifyPayment(ctx context.Context, sessionRef string) (*PaymentOutcome, error) {
	var out paystackEnvelope[verifyData]
	path := "/transaction/verify/" + url.PathEscape(sessionRef)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("verify failed: %s", out.Message)
	}

	return &PaymentOutcome{
		SessionRef: out.Data.Reference,
		Outcome:    outcomeFromStatus(out.Data.Status),
		Amount:     out.Data.Amount,
		Currency:   out.Data.Currency,
		Message:    out.Data.GatewayResponse,
	}, nil
}

func (c *PaystackClient) do(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGatewayCall(endpoint, "error", time.Since(start))
		return fmt.Errorf("payment gateway unavailable: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordGatewayCall(endpoint, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("payment gateway error",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, string(b))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func outcomeFromStatus(status string) Outcome {
	switch status {
	case "success":
		return OutcomeSuccess
	case "failed", "abandoned", "reversed":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
