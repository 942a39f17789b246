// Package fanout delivers order status changes to live subscribers. Updates
// travel over a pub/sub channel so every orders replica can reach its own
// connected clients.
package fanout

import "context"

const (
	TypeUpdate   = "update"
	TypeSnapshot = "snapshot"
)

type Message struct {
	Type          string  `json:"type"`
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status,omitempty"`
	Reason        *string `json:"reason,omitempty"`
	Amount        string  `json:"amount,omitempty"`
}

// Publisher puts a status message on the shared channel.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Source yields raw channel payloads until ctx is cancelled, then closes
// the returned channel.
type Source interface {
	Messages(ctx context.Context) (<-chan []byte, error)
}
