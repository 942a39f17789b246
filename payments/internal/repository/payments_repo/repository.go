package payments_repo

import (
	"context"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

type PaymentRepository interface {
	// InsertPlaceholder claims the order id. false means a decision for the
	// order already exists.
	InsertPlaceholder(ctx context.Context, q database.Querier, payment *domain.Payment) (bool, error)
	GetByOrderID(ctx context.Context, q database.Querier, orderID string) (*domain.Payment, error)
	UpdateDecision(ctx context.Context, q database.Querier, payment *domain.Payment) error
}
