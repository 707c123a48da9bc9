package messaging

import (
	"context"
	"encoding/json"
	"sync"
)

// Delivery is one message received by a MemoryTransport
type Delivery struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]interface{}
}

// Decode unmarshals the body back into a Message
func (d Delivery) Decode() (Message, error) {
	var msg Message
	err := json.Unmarshal(d.Body, &msg)
	return msg, err
}

// MemoryTransport keeps deliveries in memory. Used when no broker is
// configured for local runs and in tests.
type MemoryTransport struct {
	mutex      sync.Mutex
	deliveries []Delivery
	limit      int
	failWith   error
	closed     bool
}

// NewMemoryTransport keeps at most limit deliveries, 0 for unbounded
func NewMemoryTransport(limit int) *MemoryTransport {
	return &MemoryTransport{limit: limit}
}

// Publish records the delivery
func (t *MemoryTransport) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.failWith != nil {
		return t.failWith
	}

	t.deliveries = append(t.deliveries, Delivery{
		RoutingKey: routingKey,
		Body:       append([]byte(nil), body...),
		Headers:    headers,
	})
	if t.limit > 0 && len(t.deliveries) > t.limit {
		t.deliveries = t.deliveries[len(t.deliveries)-t.limit:]
	}
	return nil
}

// SetError makes every following Publish fail with err; nil restores it
func (t *MemoryTransport) SetError(err error) {
	t.mutex.Lock()
	t.failWith = err
	t.mutex.Unlock()
}

// Deliveries returns a copy of what has been published
func (t *MemoryTransport) Deliveries() []Delivery {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]Delivery(nil), t.deliveries...)
}

// IsConnected is true until Close
func (t *MemoryTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return !t.closed
}

// Close marks the transport closed
func (t *MemoryTransport) Close() error {
	t.mutex.Lock()
	t.closed = true
	t.mutex.Unlock()
	return nil
}
