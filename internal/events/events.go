package events

import "context"

// Streams
const (
	StreamPayments = "events:payments"
	StreamSessions = "events:sessions"
)

// Event types
const (
	EventPaymentCompleted = "payment_completed"
	EventSessionUpdated   = "session_updated"
	EventSessionsExpired  = "sessions_expired"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Wallet returns the wallet the event belongs to, if any.
func (e Event) Wallet() string {
	w, _ := e.Payload["wallet"].(string)
	return w
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Event), streams ...string) error
}

// NopPublisher drops events. Used by the CLI, which has no listeners.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
