// Package event holds the wire contract shared by the orders and payments
// services: the JSON envelope and the saga payloads carried inside it.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypePaymentRequested = "PaymentRequested"
	TypePaymentResult    = "PaymentResult"

	ExchangeName = "events"

	RoutingKeyPaymentRequested = "payments.payment_requested"
	RoutingKeyPaymentResult    = "orders.payment_result"

	QueuePaymentRequests      = "payments.requests"
	QueueOrdersPaymentResults = "orders.payment_results"

	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

var ErrMalformed = errors.New("malformed event")

type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Producer   string          `json:"producer"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type PaymentRequested struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type PaymentResult struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentStatus string          `json:"payment_status"`
	Reason        *string         `json:"reason"`
}

// NewEnvelope wraps payload with a fresh event id. The event id doubles as
// the outbox row id and the broker message id.
func NewEnvelope(eventType, producer string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Producer:   producer,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// DecodePaymentRequested validates the fields payments cannot work without.
func (e *Envelope) DecodePaymentRequested() (*PaymentRequested, error) {
	var p PaymentRequested
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.OrderID == "" || p.UserID == "" {
		return nil, fmt.Errorf("%w: order_id and user_id are required", ErrMalformed)
	}
	if err := validateAmount(p.Amount); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *Envelope) DecodePaymentResult() (*PaymentResult, error) {
	var p PaymentResult
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrMalformed)
	}
	if p.PaymentStatus != PaymentStatusSucceeded && p.PaymentStatus != PaymentStatusFailed {
		return nil, fmt.Errorf("%w: unknown payment_status %q", ErrMalformed, p.PaymentStatus)
	}
	if err := validateAmount(p.Amount); err != nil {
		return nil, err
	}
	return &p, nil
}

// validateAmount accepts what NUMERIC(18,2) stores without rounding.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrMalformed)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", ErrMalformed, amount)
	}
	return nil
}

// MessageID picks the broker message id and falls back to the envelope's own
// event id when the publisher did not set one.
func MessageID(brokerMessageID string, env *Envelope) string {
	if brokerMessageID != "" {
		return brokerMessageID
	}
	if env != nil {
		return env.EventID
	}
	return ""
}
