package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"orderpay/internal/event"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = event.PaymentStatusSucceeded
	PaymentStatusFailed    PaymentStatus = event.PaymentStatusFailed
)

type FailureReason string

const (
	ReasonAccountNotFound   FailureReason = "AccountNotFound"
	ReasonInsufficientFunds FailureReason = "InsufficientFunds"
)

// Payment is the per-order decision. There is at most one per order id; a
// row starts as a failed placeholder and is overwritten by the decision in
// the same transaction.
type Payment struct {
	ID        string
	OrderID   string
	UserID    string
	Amount    decimal.Decimal
	Status    PaymentStatus
	Reason    *FailureReason
	CreatedAt time.Time
}

func (p *Payment) Succeed() {
	p.Status = PaymentStatusSucceeded
	p.Reason = nil
}

func (p *Payment) Fail(reason FailureReason) {
	p.Status = PaymentStatusFailed
	p.Reason = &reason
}

// Result renders the decision as the event sent back to orders.
func (p *Payment) Result() event.PaymentResult {
	res := event.PaymentResult{
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		PaymentStatus: string(p.Status),
	}
	if p.Reason != nil {
		reason := string(*p.Reason)
		res.Reason = &reason
	}
	return res
}
