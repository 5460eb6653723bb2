// Package service holds outbound adapters of the schedule core.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/meetup-schedule/internal/queue"
)

// NotificationPublisher is the broker-backed notification gateway: each
// Send publishes one persistent NotificationEvent to the durable
// notification queue.  The connection is opened lazily and reopened after
// a failure, so a broker outage only fails the sends made during it.
type NotificationPublisher struct {
	url    string
	queue  string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewNotificationPublisher returns a publisher for url.  An empty queue name
// selects queue.DefaultQueueName.
func NewNotificationPublisher(url, queueName string, logger *slog.Logger) *NotificationPublisher {
	if queueName == "" {
		queueName = queue.DefaultQueueName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationPublisher{url: url, queue: queueName, logger: logger, now: time.Now}
}

// Send implements notify.Gateway.
func (p *NotificationPublisher) Send(ctx context.Context, recipient, message string) error {
	body, err := p.encode(recipient, message)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		p.logger.Warn("notification publish failed",
			"event", "notification_publish_failed",
			"module", "internal/service",
			"layer", "adapter",
			"queue", p.queue,
			"recipient", recipient,
			"error", err.Error(),
		)
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *NotificationPublisher) encode(recipient, message string) ([]byte, error) {
	if recipient == "" {
		return nil, errors.New("empty recipient")
	}
	return queue.NotificationEvent{Recipient: recipient, Message: message, SentAt: p.now().UTC()}.Encode()
}

// channel returns the open channel, dialing and declaring the queue when
// needed.  Callers hold p.mu.
func (p *NotificationPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *NotificationPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *NotificationPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
