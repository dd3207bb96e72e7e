package events

import (
	"context"
	"time"
)

// Streams
const (
	StreamEscrow       = "events:escrow"
	StreamVerification = "events:verification"
)

// Event types
const (
	EventTransactionCreated        = "transaction_created"
	EventTransactionStatusChanged  = "transaction_status_changed"
	EventMilestoneChanged          = "milestone_changed"
	EventVerificationStatusChanged = "verification_status_changed"
)

type Event struct {
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
