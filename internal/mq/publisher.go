package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

// DefaultExchange receives every lifecycle event, routed by event type.
const DefaultExchange = "clusterlift.events"

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the envelope published for each event.
type Message struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Payload   lifecycle.Record `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// Publisher forwards lifecycle events to a RabbitMQ exchange. Publish
// failures are logged and never propagate back into the lifecycle.
type Publisher struct {
	ch       channel
	exchange string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher on an open channel.
func NewPublisher(ch channel, exchange string, logger *slog.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{ch: ch, exchange: exchange, logger: logger}
}

// RoutingKey is the key an event is published under, e.g. "cluster.transition".
func RoutingKey(t lifecycle.EventType) string {
	return "cluster." + string(t)
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, e lifecycle.Event) error {
	msg := Message{
		ID:        e.ID,
		Type:      string(e.Type),
		Payload:   e.Record(),
		Timestamp: e.Time,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(e.Type)
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
	}

	p.logger.Debug("published event", "exchange", p.exchange, "routing_key", key, "message_id", msg.ID)
	return nil
}

func (p *Publisher) Observe(ctx context.Context, e lifecycle.Event) {
	if err := p.Publish(ctx, e); err != nil {
		p.logger.Warn("dropping lifecycle event", "type", e.Type, "error", err)
	}
}
