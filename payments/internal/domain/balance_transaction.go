package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindTopUp      TransactionKind = "topup"
	KindOrderDebit  TransactionKind = "order_debit"
)

// BalanceTransaction is an append-only ledger line. Amount is signed:
// top-ups are positive, order debits negative.
type BalanceTransaction struct {
	ID        string
	UserID    string
	Kind      TransactionKind
	Amount    decimal.Decimal
	OrderID   *string
	CreatedAt time.Time
}
