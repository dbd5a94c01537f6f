package mq

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection owns an AMQP connection and the channel events are published on.
type Connection struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// Dial connects to url, opens a channel and declares exchange as a durable
// topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Connection, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("connected to RabbitMQ", "exchange", exchange)
	return &Connection{conn: conn, ch: ch, logger: logger}, nil
}

// Publisher returns an event publisher on this connection's channel.
func (c *Connection) Publisher(exchange string) *Publisher {
	return NewPublisher(c.ch, exchange, c.logger)
}

// Close closes the channel and the connection.
func (c *Connection) Close() error {
	if err := c.ch.Close(); err != nil {
		c.logger.Debug("closing amqp channel", "error", err)
	}
	return c.conn.Close()
}
