package order_repo

import (
	"context"
	"time"

	"orderpay/internal/database"
	"orderpay/orders/internal/domain"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, q database.Querier, order *domain.Order) error
	GetOrderByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error)
	GetOrdersByUserID(ctx context.Context, q database.Querier, userID string) ([]*domain.Order, error)
	// SetTerminalStatus moves a NEW order to status. It reports false when
	// the order is already terminal or does not exist.
	SetTerminalStatus(ctx context.Context, q database.Querier, id string, status domain.OrderStatus, at time.Time) (bool, error)
}
