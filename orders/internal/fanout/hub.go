package fanout

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Subscriber is one live connection interested in one order.
type Subscriber interface {
	Send(ctx context.Context, msg Message) error
}

// Hub keeps live subscribers per order id. Delivery and pruning happen under
// one lock, so a subscriber never sees a broadcast after Unsubscribe returns.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[Subscriber]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

func (h *Hub) Subscribe(orderID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[orderID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unsubscribe(orderID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(orderID, s)
}

func (h *Hub) remove(orderID string, s Subscriber) {
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, orderID)
	}
}

// Broadcast sends msg to every subscriber of orderID and returns how many
// accepted it. Subscribers whose Send fails are dropped.
func (h *Hub) Broadcast(ctx context.Context, orderID string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs[orderID] {
		if err := s.Send(ctx, msg); err != nil {
			h.logger.Debug("Dropping dead subscriber", zap.String("order_id", orderID), zap.Error(err))
			h.remove(orderID, s)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) Count(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}
