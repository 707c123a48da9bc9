package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"estate-voice-server/pkg/circuitbreaker"
	"estate-voice-server/pkg/errors"

	"github.com/sirupsen/logrus"
)

// PublisherConfig configures the asynchronous event publisher
type PublisherConfig struct {
	// Prefix of every routing key
	RoutingKey     string
	QueueSize      int
	PublishTimeout time.Duration
	// Time Close waits for queued messages to drain
	DrainTimeout time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		RoutingKey:     "conversation",
		QueueSize:      1000,
		PublishTimeout: 5 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

// PublisherStats tracks publisher statistics
type PublisherStats struct {
	mutex             sync.RWMutex
	TotalMessages     int64     `json:"total_messages"`
	PublishedMessages int64     `json:"published_messages"`
	FailedMessages    int64     `json:"failed_messages"`
	DroppedMessages   int64     `json:"dropped_messages"`
	LastPublishTime   time.Time `json:"last_publish_time"`
	LastError         string    `json:"last_error,omitempty"`
	LastReset         time.Time `json:"last_reset"`
}

// EventPublisher queues messages and hands them to a Transport from a
// single worker so the caller never waits on the broker
type EventPublisher struct {
	logger    *logrus.Entry
	transport Transport
	breakers  *circuitbreaker.Manager
	config    PublisherConfig

	queue    chan Message
	stopChan chan struct{}
	done     chan struct{}

	// held for reading across an enqueue so Close never misses one
	startMutex sync.RWMutex
	started    bool
	closed     bool

	stats PublisherStats
}

// NewEventPublisher creates a publisher over transport. breakers may be nil.
func NewEventPublisher(logger *logrus.Logger, transport Transport, breakers *circuitbreaker.Manager, config PublisherConfig) *EventPublisher {
	defaults := DefaultPublisherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.RoutingKey == "" {
		config.RoutingKey = defaults.RoutingKey
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	return &EventPublisher{
		logger:    logger.WithField("component", "event_publisher"),
		transport: transport,
		breakers:  breakers,
		config:    config,
		queue:     make(chan Message, config.QueueSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		stats:     PublisherStats{LastReset: time.Now()},
	}
}

// Start launches the delivery worker
func (p *EventPublisher) Start() {
	p.startMutex.Lock()
	defer p.startMutex.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true
	go p.messageProcessor()

	p.logger.WithFields(logrus.Fields{
		"queue_size":  p.config.QueueSize,
		"routing_key": p.config.RoutingKey,
	}).Info("Event publisher started")
}

// Publish enqueues msg. A full queue drops the message.
func (p *EventPublisher) Publish(msg Message) error {
	p.count(func(s *PublisherStats) { s.TotalMessages++ })

	p.startMutex.RLock()
	defer p.startMutex.RUnlock()
	if p.closed {
		p.count(func(s *PublisherStats) { s.DroppedMessages++ })
		return errors.ErrPublishFailed
	}

	select {
	case p.queue <- msg:
		return nil
	default:
		p.count(func(s *PublisherStats) { s.DroppedMessages++ })
		p.logger.WithFields(logrus.Fields{
			"session_id": msg.SessionID,
			"type":       msg.Type,
		}).Warn("Event queue full, dropping message")
		return errors.Wrap(errors.ErrPublishFailed, "event queue full")
	}
}

func (p *EventPublisher) messageProcessor() {
	defer close(p.done)

	for {
		select {
		case msg := <-p.queue:
			p.deliver(msg)
		case <-p.stopChan:
			p.drain()
			return
		}
	}
}

func (p *EventPublisher) drain() {
	deadline := time.After(p.config.DrainTimeout)
	for {
		select {
		case msg := <-p.queue:
			p.deliver(msg)
		case <-deadline:
			if n := len(p.queue); n > 0 {
				p.count(func(s *PublisherStats) { s.DroppedMessages += int64(n) })
				p.logger.WithField("remaining", n).Warn("Drain timed out, dropping queued events")
			}
			return
		default:
			return
		}
	}
}

func (p *EventPublisher) deliver(msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		p.fail(msg, fmt.Errorf("failed to marshal message: %w", err))
		return
	}

	headers := map[string]interface{}{
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
		"kind":       msg.Kind,
		"type":       msg.Type,
	}
	if msg.TenantID != "" {
		headers["tenant_id"] = msg.TenantID
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	publish := func(ctx context.Context) error {
		return p.transport.Publish(ctx, msg.RoutingKey(p.config.RoutingKey), body, headers)
	}
	if p.breakers != nil {
		err = p.breakers.Execute(ctx, "amqp", publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		p.fail(msg, err)
		return
	}

	p.count(func(s *PublisherStats) {
		s.PublishedMessages++
		s.LastPublishTime = time.Now()
	})
}

func (p *EventPublisher) fail(msg Message, err error) {
	p.count(func(s *PublisherStats) {
		s.FailedMessages++
		s.LastError = err.Error()
	})
	p.logger.WithError(err).WithFields(logrus.Fields{
		"session_id": msg.SessionID,
		"kind":       msg.Kind,
		"type":       msg.Type,
	}).Warn("Failed to publish event")
}

// Close stops accepting messages, drains the queue and closes the transport
func (p *EventPublisher) Close() error {
	p.startMutex.Lock()
	if p.closed {
		p.startMutex.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.startMutex.Unlock()

	close(p.stopChan)
	if started {
		<-p.done
	} else {
		p.drain()
	}

	stats := p.GetStats()
	p.logger.WithFields(logrus.Fields{
		"published": stats.PublishedMessages,
		"failed":    stats.FailedMessages,
		"dropped":   stats.DroppedMessages,
	}).Info("Event publisher stopped")

	return p.transport.Close()
}

func (p *EventPublisher) count(fn func(s *PublisherStats)) {
	p.stats.mutex.Lock()
	fn(&p.stats)
	p.stats.mutex.Unlock()
}

// GetStats returns a copy of the publisher statistics
func (p *EventPublisher) GetStats() PublisherStats {
	p.stats.mutex.RLock()
	defer p.stats.mutex.RUnlock()

	return PublisherStats{
		TotalMessages:     p.stats.TotalMessages,
		PublishedMessages: p.stats.PublishedMessages,
		FailedMessages:    p.stats.FailedMessages,
		DroppedMessages:   p.stats.DroppedMessages,
		LastPublishTime:   p.stats.LastPublishTime,
		LastError:         p.stats.LastError,
		LastReset:         p.stats.LastReset,
	}
}

// IsConnected reports whether the transport is up
func (p *EventPublisher) IsConnected() bool {
	return p.transport.IsConnected()
}
