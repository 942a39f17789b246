package balance_tx_repo

import (
	"context"
	"database/sql"
	"fmt"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

type balanceTransactionRepository struct{}

func NewBalanceTransactionRepository() BalanceTransactionRepository {
	return &balanceTransactionRepository{}
}

func (r *balanceTransactionRepository) Insert(ctx context.Context, q database.Querier, t *domain.BalanceTransaction) error {
	query := `
		INSERT INTO balance_transactions (id, user_id, kind, amount, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var orderID sql.NullString
	if t.OrderID != nil {
		orderID = sql.NullString{String: *t.OrderID, Valid: true}
	}
	_, err := q.ExecContext(ctx, query, t.ID, t.UserID, t.Kind, t.Amount, orderID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s transaction for user %s: %w", t.Kind, t.UserID, err)
	}
	return nil
}

func (r *balanceTransactionRepository) ListByUser(ctx context.Context, q database.Querier, userID string, limit int) ([]domain.BalanceTransaction, error) {
	query := `
		SELECT id, user_id, kind, amount, order_id, created_at
		FROM balance_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []domain.BalanceTransaction
	for rows.Next() {
		var (
			t       domain.BalanceTransaction
			orderID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &orderID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if orderID.Valid {
			id := orderID.String
			t.OrderID = &id
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}
