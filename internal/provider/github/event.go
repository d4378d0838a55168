package github

import (
	"time"

	"go.uber.org/zap"
)

// Event is a validated GitHub webhook delivery.
type Event struct {
	DeliveryID string
	// Type is the value of the X-GitHub-Event header.
	Type string
	// JSON is the raw payload, event filters are evaluated on it.
	JSON []byte
	// Event is the payload parsed by github.ParseWebHook().
	Event any
	// ReceivedAt is when the webhook request was accepted.
	ReceivedAt time.Time
	LogFields  []zap.Field
}

// QueueDelay returns how long the event waited since it was received.
func (e *Event) QueueDelay(now time.Time) time.Duration {
	return now.Sub(e.ReceivedAt)
}
