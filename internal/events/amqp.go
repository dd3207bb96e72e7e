package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const ExchangeName = "rentals.events"

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// AMQPPublisher publishes events to a durable topic exchange; the stream name is the routing key.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
	log     *zap.Logger
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("amqp publisher connected", zap.String("exchange", ExchangeName))
	return &AMQPPublisher{conn: conn, channel: ch, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, stream string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		ExchangeName,
		stream,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         event.Type,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// AMQPSubscriber binds one durable queue per stream, named "<queuePrefix>.<stream>".
type AMQPSubscriber struct {
	conn        *amqp.Connection
	queuePrefix string
	log         *zap.Logger
}

func NewAMQPSubscriber(url, queuePrefix string, log *zap.Logger) (*AMQPSubscriber, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return &AMQPSubscriber{conn: conn, queuePrefix: queuePrefix, log: log}, nil
}

func (s *AMQPSubscriber) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(s.queuePrefix+"."+stream, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, stream, ExchangeName, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	s.log.Info("amqp consumer started", zap.String("queue", q.Name), zap.String("routing_key", stream))

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				s.deliver(msg, handler)
			}
		}
	}()

	return nil
}

func (s *AMQPSubscriber) deliver(msg amqp.Delivery, handler func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panic recovered", zap.Any("panic", r))
			_ = msg.Nack(false, false)
		}
	}()

	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		s.log.Error("failed to unmarshal event", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	handler(event)
	if err := msg.Ack(false); err != nil {
		s.log.Error("failed to ack message", zap.Error(err))
	}
}

func (s *AMQPSubscriber) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
