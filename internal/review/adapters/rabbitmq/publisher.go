// Package rabbitmq moves review requests, reviewer decisions and rejection
// notices over durable RabbitMQ queues.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"vericrop/internal/review"
)

// Channel is the subset of *amqp.Channel the adapters use.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Publisher implements review.Queue and review.Notifier.
type Publisher struct {
	ch          Channel
	reviewQueue string
	noticeQueue string
	logger      *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(ch Channel, reviewQueue, noticeQueue string, opts ...Option) *Publisher {
	p := &Publisher{
		ch:          ch,
		reviewQueue: reviewQueue,
		noticeQueue: noticeQueue,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		declared:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue publishes a review request to the review queue.
func (p *Publisher) Enqueue(ctx context.Context, req review.Request) error {
	if err := p.publish(ctx, p.reviewQueue, req.ClaimID.String(), req); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "review request published",
		"queue", p.reviewQueue,
		"claim_id", req.ClaimID.String(),
		"reason", req.Reason,
	)
	return nil
}

// NotifyRejection publishes a rejection notice to the notice queue.
func (p *Publisher) NotifyRejection(ctx context.Context, notice review.Notice) error {
	if err := p.publish(ctx, p.noticeQueue, notice.ClaimID.String(), notice); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "rejection notice published",
		"queue", p.noticeQueue,
		"claim_id", notice.ClaimID.String(),
		"state", notice.State,
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue, messageID string, v any) error {
	if err := p.declare(queue); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", queue, err)
	}
	err = p.ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// declare makes sure queue exists, once per publisher.
func (p *Publisher) declare(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[queue] {
		return nil
	}
	if err := declareQueue(p.ch, queue); err != nil {
		return err
	}
	p.declared[queue] = true
	return nil
}

func declareQueue(ch Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}
