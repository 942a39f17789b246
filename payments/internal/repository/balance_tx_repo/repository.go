package balance_tx_repo

import (
	"context"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

type BalanceTransactionRepository interface {
	Insert(ctx context.Context, q database.Querier, t *domain.BalanceTransaction) error
	// ListByUser returns the newest transactions first.
	ListByUser(ctx context.Context, q database.Querier, userID string, limit int) ([]domain.BalanceTransaction, error)
}
