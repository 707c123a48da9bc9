package messaging

import (
	"context"
)

// Transport delivers encoded messages to a broker
type Transport interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]interface{}) error
	IsConnected() bool
	Close() error
}

// Publisher accepts analytics messages from the pipeline. Publish must not
// block on the broker.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// NopPublisher discards everything; used when the event feed is disabled
type NopPublisher struct{}

// Publish drops msg
func (NopPublisher) Publish(Message) error { return nil }

// Close is a no-op
func (NopPublisher) Close() error { return nil }
