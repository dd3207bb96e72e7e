package notify

import (
	"context"

	"github.com/rental-marketplace/backend/internal/events"
	"go.uber.org/zap"
)

type MessageSender interface {
	Send(ctx context.Context, msg Message) error
}

// Bridge turns bus events into channel messages.
type Bridge struct {
	templates *Templates
	sender    MessageSender
	log       *zap.Logger
}

func NewBridge(templates *Templates, sender MessageSender, log *zap.Logger) *Bridge {
	return &Bridge{templates: templates, sender: sender, log: log}
}

// Handle renders and sends every channel configured for the event. It returns
// the number of messages delivered; failures are logged per channel.
func (b *Bridge) Handle(ctx context.Context, event events.Event) int {
	sent := 0
	for _, ch := range b.templates.Channels(event.Type) {
		msg, ok, err := b.templates.Render(event.Type, ch, event.Payload)
		if err != nil {
			b.log.Error("render notification failed",
				zap.String("event", event.Type),
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		if err := b.sender.Send(ctx, *msg); err != nil {
			b.log.Warn("send notification failed",
				zap.String("event", event.Type),
				zap.String("entity_id", event.EntityID),
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}
