package payments_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

type paymentRepository struct{}

func NewPaymentRepository() PaymentRepository {
	return &paymentRepository{}
}

func (r *paymentRepository) InsertPlaceholder(ctx context.Context, q database.Querier, payment *domain.Payment) (bool, error) {
	query := `
		INSERT INTO payments (id, order_id, user_id, amount, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Amount,
		payment.Status,
		reasonValue(payment.Reason),
		payment.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment for order %s: %w", payment.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, q database.Querier, orderID string) (*domain.Payment, error) {
	query := `
		SELECT id, order_id, user_id, amount, status, reason, created_at
		FROM payments
		WHERE order_id = $1
	`
	payment := &domain.Payment{}
	var reason sql.NullString
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Amount,
		&payment.Status,
		&reason,
		&payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment for order %s: %w", orderID, err)
	}
	if reason.Valid {
		fr := domain.FailureReason(reason.String)
		payment.Reason = &fr
	}
	return payment, nil
}

func (r *paymentRepository) UpdateDecision(ctx context.Context, q database.Querier, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, reason = $2
		WHERE id = $3
	`
	_, err := q.ExecContext(ctx, query, payment.Status, reasonValue(payment.Reason), payment.ID)
	if err != nil {
		return fmt.Errorf("failed to record decision for order %s: %w", payment.OrderID, err)
	}
	return nil
}

func reasonValue(reason *domain.FailureReason) sql.NullString {
	if reason == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*reason), Valid: true}
}
