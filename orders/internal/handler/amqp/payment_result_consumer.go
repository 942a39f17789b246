package amqp

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"orderpay/internal/broker/rabbitmq"
	"orderpay/internal/event"
	"orderpay/orders/internal/app/orders"
)

func PaymentResultHandler(orderService orders.OrderService, logger *zap.Logger) rabbitmq.Handler {
	return func(ctx context.Context, d rabbitmq.Delivery) error {
		env, err := event.ParseEnvelope(d.Body)
		if err != nil {
			logger.Warn("Dropping malformed delivery",
				zap.String("message_id", d.MessageID),
				zap.ByteString("body", d.Body),
				zap.Error(err))
			return nil
		}
		if env.EventType != event.TypePaymentResult {
			logger.Warn("Dropping delivery with unexpected event type",
				zap.String("message_id", d.MessageID),
				zap.String("event_type", env.EventType))
			return nil
		}

		res, err := env.DecodePaymentResult()
		if err != nil {
			logger.Warn("Dropping malformed PaymentResult",
				zap.String("message_id", d.MessageID),
				zap.String("event_id", env.EventID),
				zap.Error(err))
			return nil
		}

		messageID := event.MessageID(d.MessageID, env)
		if messageID == "" {
			logger.Warn("Dropping PaymentResult without message id", zap.String("order_id", res.OrderID))
			return nil
		}

		logger.Info("Processing PaymentResult",
			zap.String("message_id", messageID),
			zap.String("order_id", res.OrderID),
			zap.String("payment_status", res.PaymentStatus),
			zap.Bool("redelivered", d.Redelivered))

		if err := orderService.HandlePaymentResult(ctx, messageID, res); err != nil {
			if errors.Is(err, event.ErrMalformed) {
				logger.Warn("Dropping unprocessable PaymentResult", zap.String("order_id", res.OrderID), zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to handle payment result for order %s: %w", res.OrderID, err)
		}
		return nil
	}
}
