package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rental-marketplace/backend/internal/metrics"
	"go.uber.org/zap"
)

// Sender delivers rendered messages through the notification function, which
// fans out to the email, SMS and WhatsApp providers.
type Sender struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewSender(url string, timeout time.Duration, log *zap.Logger) *Sender {
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (s *Sender) Send(ctx context.Context, msg Message) error {
	err := s.send(ctx, msg)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.IncrementNotificationSent(string(msg.Channel), status)
	return err
}

func (s *Sender) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send %s: status %d: %s", msg.Channel, resp.StatusCode, string(respBody))
	}
	return nil
}
