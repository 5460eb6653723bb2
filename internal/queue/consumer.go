package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FileSink appends one line per delivered notification to Path.  It stands
// in for the e-mail/SMS transport.
type FileSink struct {
	Path string
	mu   sync.Mutex
}

// Write appends ev to the sink file, creating the directory when missing.
func (s *FileSink) Write(ev NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.Path), err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer f.Close()

	msg := strings.ReplaceAll(ev.Message, "\n", " ")
	line := fmt.Sprintf("[%s] Notification delivered | recipient=%q | message=%q\n",
		ev.SentAt.UTC().Format(time.RFC3339), ev.Recipient, msg)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}

// Consumer drains the notification queue into a FileSink.  It reconnects
// with exponential backoff until its context is cancelled.
type Consumer struct {
	URL    string
	Queue  string
	Sink   *FileSink
	Logger *slog.Logger
}

// Run blocks until ctx is done.  It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := c.Queue
	if queue == "" {
		queue = DefaultQueueName
	}

	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err == nil {
			backoff = time.Second
			err = c.consume(ctx, conn, queue, logger)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("notification consumer disconnected",
			"event", "notification_consumer_retry",
			"module", "internal/queue",
			"layer", "consumer",
			"queue", queue,
			"retry_in", backoff.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, queue string, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Handle(d.Body); err != nil {
			logger.Error("notification delivery rejected",
				"event", "notification_consumer_reject",
				"module", "internal/queue",
				"layer", "consumer",
				"error", err.Error(),
			)
			// malformed or undeliverable: drop rather than redeliver forever
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes one message body and writes it to the sink.
func (c *Consumer) Handle(body []byte) error {
	ev, err := DecodeNotification(body)
	if err != nil {
		return err
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	return c.Sink.Write(ev)
}
