// Package rabbitmq is the broker client shared by both services: one durable
// topic exchange, persistent confirmed publishes and manually acknowledged
// consumers with a bounded prefetch.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "orderpay/internal/broker/rabbitmq"

var (
	ErrNotConnected = errors.New("rabbitmq: not connected")
	ErrNacked       = errors.New("rabbitmq: publish not confirmed by broker")
)

type Config struct {
	URL      string
	Exchange string
	// Prefetch caps unacknowledged deliveries per consumer channel.
	Prefetch int
	// Concurrency is the number of handler goroutines per Consume call.
	Concurrency int

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *Config) setDefaults() {
	if c.Exchange == "" {
		c.Exchange = "events"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 30
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

// backoff grows linearly with the attempt number and is capped at MaxBackoff.
func (c *Config) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * c.BaseBackoff
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

type binding struct {
	queue      string
	routingKey string
}

type Option func(*Client)

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

type Client struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	conCh    *amqp.Channel
	bindings []binding

	// pubMu serialises publishes so confirms arrive in publish order.
	pubMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}

	meterProvider  metric.MeterProvider
	consumeCounter metric.Int64Counter
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	cfg.setDefaults()
	c := &Client{
		cfg:           cfg,
		logger:        logger,
		done:          make(chan struct{}),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}

	counter, err := c.meterProvider.Meter(instrumentationName).Int64Counter(
		"messaging.consume.count",
		metric.WithDescription("Deliveries settled by consumers"),
		metric.WithUnit("{messages}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging.consume.count counter: %w", err)
	}
	c.consumeCounter = counter
	return c, nil
}

// Connect dials the broker and declares the exchange on both channels,
// retrying with backoff. It fails only after MaxAttempts consecutive errors.
func (c *Client) Connect(ctx context.Context) error {
	return c.connectWithRetry(ctx)
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.closed.Load() {
			return ErrNotConnected
		}
		err := c.connectOnce()
		if err == nil {
			c.logger.Info("Connected to RabbitMQ",
				zap.String("exchange", c.cfg.Exchange),
				zap.Int("prefetch", c.cfg.Prefetch),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		wait := c.cfg.backoff(attempt)
		c.logger.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrNotConnected
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("rabbitmq connect failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *Client) connectOnce() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open publish channel: %w", err)
	}
	if err := pubCh.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := c.declareExchange(pubCh); err != nil {
		_ = conn.Close()
		return err
	}

	conCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open consume channel: %w", err)
	}
	if err := conCh.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err := c.declareExchange(conCh); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	for _, b := range c.bindings {
		if err := c.declareQueue(conCh, b.queue, b.routingKey); err != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return err
		}
	}
	c.conn, c.pubCh, c.conCh = conn, pubCh, conCh
	c.mu.Unlock()

	go c.watch(conn)
	return nil
}

func (c *Client) declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.cfg.Exchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.cfg.Exchange, err)
	}
	return nil
}

// watch reconnects after an unexpected connection loss. A graceful Close
// closes the notify channel without an error and ends the watcher.
func (c *Client) watch(conn *amqp.Connection) {
	amqpErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || c.closed.Load() {
		return
	}
	c.logger.Error("RabbitMQ connection lost, reconnecting", zap.Error(amqpErr))

	for !c.closed.Load() {
		if err := c.connectWithRetry(context.Background()); err != nil {
			c.logger.Error("RabbitMQ reconnect round failed", zap.Error(err))
			continue
		}
		return
	}
}

// DeclareQueue creates a durable queue bound to routingKey. Safe to repeat;
// the binding is replayed after every reconnect.
func (c *Client) DeclareQueue(name, routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conCh == nil {
		return ErrNotConnected
	}
	if err := c.declareQueue(c.conCh, name, routingKey); err != nil {
		return err
	}
	for _, b := range c.bindings {
		if b.queue == name && b.routingKey == routingKey {
			return nil
		}
	}
	c.bindings = append(c.bindings, binding{queue: name, routingKey: routingKey})
	return nil
}

func (c *Client) declareQueue(ch *amqp.Channel, name, routingKey string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, routingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", name, routingKey, err)
	}
	return nil
}

// Publish sends a persistent JSON message and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, messageID, correlationID string, headers map[string]any) error {
	c.mu.RLock()
	ch := c.pubCh
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		c.cfg.Exchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     messageID,
			CorrelationId: correlationID,
			Headers:       amqp.Table(headers),
			Timestamp:     time.Now().UTC(),
			Body:          body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", messageID, err)
	}
	if confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm of %s: %w", messageID, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNacked, messageID)
	}
	c.logger.Debug("Message published",
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID))
	return nil
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
