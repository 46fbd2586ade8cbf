// Package rabbitmq holds the AMQP connection shared by queue adapters.
package rabbitmq

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection holds the RabbitMQ connection and channel.
type Connection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	logger     *slog.Logger
}

// Connect dials url and opens a channel. Returns nil if url is empty.
func Connect(url string, logger *slog.Logger) (*Connection, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	logger.Info("connected to RabbitMQ")
	return &Connection{Connection: conn, Channel: ch, logger: logger}, nil
}

// DeclareQueue declares a durable queue.
func (c *Connection) DeclareQueue(name string) error {
	_, err := c.Channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// Close closes the channel and connection.
func (c *Connection) Close() error {
	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			c.logger.Error("failed to close RabbitMQ channel", "error", err)
		}
	}
	if c.Connection != nil {
		if err := c.Connection.Close(); err != nil {
			c.logger.Error("failed to close RabbitMQ connection", "error", err)
			return err
		}
	}
	return nil
}
