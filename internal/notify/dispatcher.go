package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/metrics"
	"go.uber.org/zap"
)

// Dispatcher hands lifecycle events to the event bus. Delivery is best-effort:
// a publish that fails or outlives the timeout is logged, counted and dropped.
type Dispatcher struct {
	publisher events.Publisher
	timeout   time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewDispatcher(publisher events.Publisher, timeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, timeout: timeout, log: log, now: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, event string, entityID uuid.UUID, payload map[string]any) {
	// The caller's request may already be finishing; the publish gets its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	err := d.publisher.Publish(ctx, StreamFor(event), events.Event{
		Type:       event,
		EntityID:   entityID.String(),
		OccurredAt: d.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		metrics.IncrementNotificationDropped(event)
		d.log.Warn("notification dropped",
			zap.String("event", event),
			zap.String("entity_id", entityID.String()),
			zap.Error(err),
		)
	}
}

// StreamFor routes an event type to its bus stream.
func StreamFor(event string) string {
	if event == events.EventVerificationStatusChanged {
		return events.StreamVerification
	}
	return events.StreamEscrow
}
