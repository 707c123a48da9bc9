package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	ExchangeName string
	QueueName    string
	// Base routing key; the queue is bound to base.#
	RoutingKey     string
	Durable        bool
	ConnectTimeout time.Duration
	// Give up reconnecting after this long, 0 retries forever
	MaxReconnect time.Duration
	MessageTTL   time.Duration
}

// AMQPConfigFrom maps the messaging section of the server config
func AMQPConfigFrom(cfg config.MessagingConfig) AMQPConfig {
	return AMQPConfig{
		URL:            cfg.AMQPUrl,
		ExchangeName:   cfg.ExchangeName,
		QueueName:      cfg.QueueName,
		RoutingKey:     cfg.RoutingKey,
		Durable:        cfg.Durable,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxReconnect:   cfg.MaxReconnect,
		MessageTTL:     12 * time.Hour,
	}
}

// AMQPClient handles AMQP connections and message publishing
type AMQPClient struct {
	logger *logrus.Entry
	config AMQPConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, cfg AMQPConfig) *AMQPClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "conversation"
	}

	return &AMQPClient{
		logger:   logger.WithField("component", "amqp_client"),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker, declares the topology and starts the
// connection monitor
func (c *AMQPClient) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.monitorConnection()
	return nil
}

// ConnectInBackground retries the first connection with backoff, then
// watches it the way Connect does
func (c *AMQPClient) ConnectInBackground() {
	c.wg.Add(1)
	go func() {
		if !c.reconnect() {
			c.wg.Done()
			return
		}
		c.monitorConnection()
	}()
}

func (c *AMQPClient) dial() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if c.config.URL == "" || c.config.ExchangeName == "" {
		return fmt.Errorf("AMQP URL or exchange name not configured")
	}

	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Dial:      amqp.DefaultDial(c.config.ConnectTimeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := c.declare(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"exchange": c.config.ExchangeName,
		"queue":    c.config.QueueName,
	}).Info("Connected to AMQP server")

	return nil
}

func (c *AMQPClient) declare(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(
		c.config.ExchangeName,
		amqp.ExchangeTopic,
		c.config.Durable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare AMQP exchange: %w", err)
	}

	if c.config.QueueName == "" {
		return nil
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	if err := channel.QueueBind(c.config.QueueName, c.config.RoutingKey+".#", c.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind AMQP queue: %w", err)
	}
	return nil
}

// Publish sends body to the exchange under routingKey
func (c *AMQPClient) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table(headers),
	}
	if c.config.MessageTTL > 0 {
		publishing.Expiration = fmt.Sprintf("%d", c.config.MessageTTL.Milliseconds())
	}

	if err := c.channel.Publish(c.config.ExchangeName, routingKey, false, false, publishing); err != nil {
		metrics.RecordAMQPPublish(c.config.ExchangeName, "error")
		return fmt.Errorf("failed to publish to AMQP: %w", err)
	}

	metrics.RecordAMQPPublish(c.config.ExchangeName, "success")
	return nil
}

// BaseRoutingKey returns the configured routing key prefix
func (c *AMQPClient) BaseRoutingKey() string {
	return c.config.RoutingKey
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Close stops reconnecting and closes the connection
func (c *AMQPClient) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })

	c.connMutex.Lock()
	if c.channel != nil {
		c.channel.Close()
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.connected = false
	c.connMutex.Unlock()

	c.wg.Wait()
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
	return err
}

// monitorConnection waits for the connection to drop and reconnects with
// exponential backoff
func (c *AMQPClient) monitorConnection() {
	defer c.wg.Done()

	for {
		c.connMutex.RLock()
		conn := c.conn
		c.connMutex.RUnlock()
		if conn == nil {
			return
		}

		closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.channel = nil
			c.connMutex.Unlock()
			metrics.SetAMQPConnectionStatus(false)

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
			if !c.reconnect() {
				return
			}
		}
	}
}

func (c *AMQPClient) reconnect() bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = c.config.MaxReconnect

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		metrics.RecordAMQPReconnect()
		c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")
		return c.dial()
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		c.logger.WithError(err).WithField("attempts", attempt).Error("Giving up reconnecting to AMQP server")
		return false
	}

	c.logger.WithField("attempts", attempt).Info("Successfully reconnected to AMQP server")
	return true
}
