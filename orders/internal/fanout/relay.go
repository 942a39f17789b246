package fanout

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Relay forwards channel messages to the hub. Nothing is replayed or
// persisted; a subscriber that connects later starts from a snapshot.
type Relay struct {
	hub    *Hub
	source Source
	logger *zap.Logger
}

func NewRelay(hub *Hub, source Source, logger *zap.Logger) *Relay {
	return &Relay{hub: hub, source: source, logger: logger}
}

func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.source.Messages(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("Status relay started")

	for raw := range msgs {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("Skipping invalid status message", zap.ByteString("payload", raw), zap.Error(err))
			continue
		}
		if msg.OrderID == "" {
			r.logger.Warn("Skipping status message without order_id", zap.ByteString("payload", raw))
			continue
		}
		n := r.hub.Broadcast(ctx, msg.OrderID, msg)
		r.logger.Debug("Status update relayed",
			zap.String("order_id", msg.OrderID),
			zap.String("status", msg.Status),
			zap.Int("subscribers", n))
	}

	r.logger.Info("Status relay stopped")
	return nil
}
