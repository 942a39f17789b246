package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderpay/internal/event"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusFinished  OrderStatus = "FINISHED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

const MaxDescriptionLength = 512

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order data")
)

type Order struct {
	ID          string
	UserID      string
	Amount      decimal.Decimal
	Description string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewOrder(userID, description string, amount decimal.Decimal) (*Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return nil, fmt.Errorf("%w: amount must be positive with at most two decimal places", ErrInvalidOrder)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidOrder, MaxDescriptionLength)
	}
	now := time.Now().UTC()
	return &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Description: description,
		Status:      OrderStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFinished || s == OrderStatusCancelled
}

// StatusForPayment maps a payment decision onto the terminal order status.
func StatusForPayment(paymentStatus string) (OrderStatus, error) {
	switch paymentStatus {
	case event.PaymentStatusSucceeded:
		return OrderStatusFinished, nil
	case event.PaymentStatusFailed:
		return OrderStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", paymentStatus)
	}
}
