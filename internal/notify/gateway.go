package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Gateway delivers one message to one recipient.  Implementations may fail;
// the dispatcher treats every failure as local to that recipient.
type Gateway interface {
	Send(ctx context.Context, recipient, message string) error
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, recipient, message string) error

func (f GatewayFunc) Send(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}

// ErrNoParticipants signals that a meetup has nobody approved to notify.
// It is surfaced to the caller of Notify because a confirmation with no
// audience points at a data problem upstream.
var ErrNoParticipants = errors.New("no approved participants to notify")

// DeliveryError records a failed delivery to a single recipient.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LogGateway "delivers" by writing a structured log line.  It is used when
// no broker is configured.
type LogGateway struct {
	Logger *slog.Logger
}

func (g LogGateway) Send(_ context.Context, recipient, message string) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification delivered",
		"event", "notify_log_gateway_delivered",
		"module", "internal/notify",
		"layer", "adapter",
		"recipient", recipient,
		"message", message,
	)
	return nil
}
