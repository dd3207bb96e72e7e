package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rental-marketplace/backend/internal/config"
	"go.uber.org/zap"
)

// Backend is the event bus chosen by EVENTS_BACKEND.
type Backend struct {
	Publisher  Publisher
	Subscriber Subscriber
	closers    []func()
}

func (b *Backend) Close() {
	for _, c := range b.closers {
		c()
	}
}

// NewBackend wires the configured bus. queuePrefix names the durable AMQP
// queues of the calling process and is ignored for redis.
func NewBackend(cfg *config.Config, rdb *redis.Client, queuePrefix string, log *zap.Logger) (*Backend, error) {
	if cfg.EventsBackend != config.EventsBackendAMQP {
		return &Backend{
			Publisher:  NewRedisPublisher(rdb, log),
			Subscriber: NewRedisSubscriber(rdb, log),
		}, nil
	}

	pub, err := NewAMQPPublisher(cfg.AMQPURL, log)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := NewAMQPSubscriber(cfg.AMQPURL, queuePrefix, log)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}
	return &Backend{Publisher: pub, Subscriber: sub, closers: []func(){sub.Close, pub.Close}}, nil
}
