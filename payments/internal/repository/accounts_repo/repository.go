package accounts_repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

type AccountRepository interface {
	// CreateIfAbsent inserts account unless the user already has one.
	CreateIfAbsent(ctx context.Context, q database.Querier, account *domain.Account) (bool, error)
	GetByUserID(ctx context.Context, q database.Querier, userID string) (*domain.Account, error)
	// GetForUpdate locks the user's account row until the transaction ends.
	GetForUpdate(ctx context.Context, q database.Querier, userID string) (*domain.Account, error)
	SetBalance(ctx context.Context, q database.Querier, accountID string, balance decimal.Decimal, at time.Time) error
}
