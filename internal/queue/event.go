// Package queue carries schedule notifications over RabbitMQ: the payload
// published by the notification gateway and the consumer that delivers it.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultQueueName is the durable queue notifications are routed to.
const DefaultQueueName = "schedule.notifications"

// NotificationEvent is one message addressed to one recipient.
type NotificationEvent struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// Encode renders the event as the JSON message body.
func (e NotificationEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeNotification parses a message body.  Events without a recipient
// are rejected since they can never be delivered.
func DecodeNotification(body []byte) (NotificationEvent, error) {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return NotificationEvent{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	if ev.Recipient == "" {
		return NotificationEvent{}, fmt.Errorf("notification without recipient")
	}
	return ev, nil
}
