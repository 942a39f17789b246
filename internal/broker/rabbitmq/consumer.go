package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Delivery is the broker-independent view of an inbound message.
type Delivery struct {
	MessageID     string
	CorrelationID string
	RoutingKey    string
	Headers       map[string]any
	Body          []byte
	Redelivered   bool
}

// Handler processes one delivery. A nil error acknowledges the message, any
// error returns it to the queue for redelivery.
type Handler func(ctx context.Context, d Delivery) error

func fromAMQP(d amqp.Delivery) Delivery {
	var headers map[string]any
	if len(d.Headers) > 0 {
		headers = make(map[string]any, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
	}
	return Delivery{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		RoutingKey:    d.RoutingKey,
		Headers:       headers,
		Body:          d.Body,
		Redelivered:   d.Redelivered,
	}
}

// Consume runs handler over queue until ctx is cancelled. After a connection
// loss it resubscribes once the client has reconnected. Handlers already
// running when ctx is cancelled are allowed to finish.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil || c.closed.Load() {
			return nil
		}
		c.logger.Warn("Consumer interrupted, resubscribing",
			zap.String("queue", queue),
			zap.Duration("retry_in", c.cfg.MaxBackoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-time.After(c.cfg.MaxBackoff):
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, queue string, handler Handler) error {
	c.mu.RLock()
	ch := c.conCh
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	tag := fmt.Sprintf("%s-%s", queue, uuid.NewString())
	deliveries, err := ch.Consume(
		queue, // queue
		tag,   // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}
	c.logger.Info("Consumer started",
		zap.String("queue", queue),
		zap.Int("workers", c.cfg.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return errDeliveriesClosed
					}
					c.handle(ctx, queue, d, handler)
				}
			}
		})
	}
	err = g.Wait()

	if ctx.Err() != nil && !ch.IsClosed() {
		// Unread prefetched deliveries go back to the queue when the channel closes.
		if cancelErr := ch.Cancel(tag, false); cancelErr != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", queue), zap.Error(cancelErr))
		}
	}
	return err
}

// handle settles exactly one delivery. The handler context is detached from
// ctx so a shutdown does not abort a transaction half way.
func (c *Client) handle(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	hctx := context.WithoutCancel(ctx)
	msg := fromAMQP(d)

	err := c.invoke(hctx, msg, handler)
	if err != nil {
		c.logger.Error("Failed to handle message, requeueing",
			zap.String("queue", queue),
			zap.String("message_id", msg.MessageID),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to nack message", zap.String("message_id", msg.MessageID), zap.Error(nackErr))
		}
		c.count(hctx, queue, "nack")
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ack message", zap.String("message_id", msg.MessageID), zap.Error(ackErr))
		return
	}
	c.count(hctx, queue, "ack")
}

func (c *Client) invoke(ctx context.Context, msg Delivery, handler Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, msg)
}

func (c *Client) count(ctx context.Context, queue, outcome string) {
	c.consumeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("messaging.destination", queue),
		attribute.String("outcome", outcome),
	))
}
