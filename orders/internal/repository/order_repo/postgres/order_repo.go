package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orderpay/internal/database"
	"orderpay/orders/internal/domain"
	"orderpay/orders/internal/repository/order_repo"
)

type pgOrderRepository struct {
	logger *zap.Logger
}

func NewOrderRepository(l *zap.Logger) order_repo.OrderRepository {
	return &pgOrderRepository{logger: l}
}

func (r *pgOrderRepository) CreateOrder(ctx context.Context, q database.Querier, order *domain.Order) error {
	query := `INSERT INTO orders (id, user_id, amount, description, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.ExecContext(ctx, query, order.ID, order.UserID, order.Amount, order.Description, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	r.logger.Debug("Order inserted", zap.String("order_id", order.ID))
	return nil
}

func (r *pgOrderRepository) GetOrderByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	order := &domain.Order{}
	query := `SELECT id, user_id, amount, description, status, created_at, updated_at FROM orders WHERE id = $1`
	err := q.QueryRowContext(ctx, query, id).Scan(&order.ID, &order.UserID, &order.Amount, &order.Description, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return order, nil
}

func (r *pgOrderRepository) GetOrdersByUserID(ctx context.Context, q database.Querier, userID string) ([]*domain.Order, error) {
	var orders []*domain.Order
	query := `SELECT id, user_id, amount, description, status, created_at, updated_at FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders by user ID %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		order := &domain.Order{}
		if err := rows.Scan(&order.ID, &order.UserID, &order.Amount, &order.Description, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

func (r *pgOrderRepository) SetTerminalStatus(ctx context.Context, q database.Querier, id string, status domain.OrderStatus, at time.Time) (bool, error) {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = 'NEW'`
	res, err := q.ExecContext(ctx, query, status, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to update status of order %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		r.logger.Debug("Order not in NEW status, update skipped", zap.String("order_id", id))
		return false, nil
	}
	r.logger.Debug("Order status updated", zap.String("order_id", id), zap.String("new_status", string(status)))
	return true, nil
}
