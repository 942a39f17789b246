package accounts_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderpay/internal/database"
	"orderpay/payments/internal/domain"
)

const selectAccount = `
	SELECT id, user_id, balance, created_at, updated_at
	FROM accounts
	WHERE user_id = $1
`

type accountRepository struct{}

func NewAccountRepository() AccountRepository {
	return &accountRepository{}
}

func (r *accountRepository) CreateIfAbsent(ctx context.Context, q database.Querier, account *domain.Account) (bool, error) {
	query := `
		INSERT INTO accounts (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query,
		account.ID, account.UserID, account.Balance, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create account for user %s: %w", account.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, q database.Querier, userID string) (*domain.Account, error) {
	return r.get(ctx, q, selectAccount, userID)
}

func (r *accountRepository) GetForUpdate(ctx context.Context, q database.Querier, userID string) (*domain.Account, error) {
	return r.get(ctx, q, selectAccount+" FOR UPDATE", userID)
}

func (r *accountRepository) get(ctx context.Context, q database.Querier, query, userID string) (*domain.Account, error) {
	account := &domain.Account{}
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&account.ID,
		&account.UserID,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account for user %s: %w", userID, err)
	}
	return account, nil
}

func (r *accountRepository) SetBalance(ctx context.Context, q database.Querier, accountID string, balance decimal.Decimal, at time.Time) error {
	query := `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`
	res, err := q.ExecContext(ctx, query, balance, at, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance for account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
