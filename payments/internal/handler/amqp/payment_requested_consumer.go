package amqp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"orderpay/internal/broker/rabbitmq"
	"orderpay/internal/event"
	"orderpay/payments/internal/app/payments"
)

// PaymentRequestedHandler consumes payments.requests. Malformed deliveries
// are logged and acknowledged so they do not loop; processing errors return
// the message to the queue.
func PaymentRequestedHandler(paymentService payments.PaymentService, logger *zap.Logger) rabbitmq.Handler {
	return func(ctx context.Context, d rabbitmq.Delivery) error {
		env, err := event.ParseEnvelope(d.Body)
		if err != nil {
			logger.Warn("Dropping malformed delivery",
				zap.String("message_id", d.MessageID),
				zap.ByteString("body", d.Body),
				zap.Error(err))
			return nil
		}
		if env.EventType != event.TypePaymentRequested {
			logger.Warn("Dropping delivery with unexpected event type",
				zap.String("message_id", d.MessageID),
				zap.String("event_type", env.EventType))
			return nil
		}

		req, err := env.DecodePaymentRequested()
		if err != nil {
			logger.Warn("Dropping malformed PaymentRequested",
				zap.String("message_id", d.MessageID),
				zap.String("event_id", env.EventID),
				zap.Error(err))
			return nil
		}

		messageID := event.MessageID(d.MessageID, env)
		if messageID == "" {
			logger.Warn("Dropping PaymentRequested without message id", zap.String("order_id", req.OrderID))
			return nil
		}

		logger.Info("Processing PaymentRequested",
			zap.String("message_id", messageID),
			zap.String("order_id", req.OrderID),
			zap.String("user_id", req.UserID),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.Bool("redelivered", d.Redelivered))

		if _, err := paymentService.ProcessPaymentRequested(ctx, messageID, req); err != nil {
			return fmt.Errorf("failed to process payment request for order %s: %w", req.OrderID, err)
		}
		return nil
	}
}
