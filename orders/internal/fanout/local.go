package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const localBuffer = 256

// LocalChannel is an in-process pub/sub channel for single-replica
// deployments without Redis.
type LocalChannel struct {
	mu        sync.Mutex
	listeners map[chan []byte]struct{}
}

func NewLocalChannel() *LocalChannel {
	return &LocalChannel{listeners: make(map[chan []byte]struct{})}
}

func (c *LocalChannel) Publish(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.listeners {
		// a listener that fell localBuffer messages behind misses this one
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (c *LocalChannel) Messages(ctx context.Context) (<-chan []byte, error) {
	in := make(chan []byte, localBuffer)
	c.mu.Lock()
	c.listeners[in] = struct{}{}
	c.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			c.mu.Lock()
			delete(c.listeners, in)
			c.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-in:
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
