// Package inbox records broker message ids that a consumer has already seen.
package inbox

import (
	"context"
	"fmt"
	"time"

	"orderpay/internal/database"
)

type Repository interface {
	// TryInsert reports whether messageID was recorded for the first time.
	TryInsert(ctx context.Context, q database.Querier, messageID string) (bool, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) TryInsert(ctx context.Context, q database.Querier, messageID string) (bool, error) {
	query := `
		INSERT INTO inbox_messages (message_id, received_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query, messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert inbox message %s: %w", messageID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for inbox message %s: %w", messageID, err)
	}
	return rowsAffected > 0, nil
}
