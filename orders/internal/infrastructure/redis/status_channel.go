package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orderpay/orders/internal/fanout"
)

const DefaultChannel = "order_status"

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// StatusChannel carries fan-out messages over Redis pub/sub so that every
// orders replica receives every update.
type StatusChannel struct {
	client  goredis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewStatusChannel(client goredis.UniversalClient, channel string, logger *zap.Logger) *StatusChannel {
	if channel == "" {
		channel = DefaultChannel
	}
	return &StatusChannel{client: client, channel: channel, logger: logger}
}

func (c *StatusChannel) Publish(ctx context.Context, msg fanout.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.channel, err)
	}
	return nil
}

// Messages subscribes to the channel. The subscription is confirmed before
// returning, so nothing published afterwards is missed.
func (c *StatusChannel) Messages(ctx context.Context) (<-chan []byte, error) {
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.channel, err)
	}
	c.logger.Info("Subscribed to status channel", zap.String("channel", c.channel))

	in := pubsub.Channel()
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
