package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"orderpay/internal/database"
)

type Repository interface {
	Create(ctx context.Context, q database.Querier, e *Event) error
	FetchPending(ctx context.Context, q database.Querier, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, q database.Querier, id string, at time.Time) error
	MarkFailed(ctx context.Context, q database.Querier, id string, cause error) error
	CountPending(ctx context.Context, q database.Querier) (int64, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) Create(ctx context.Context, q database.Querier, e *Event) error {
	query := `
		INSERT INTO outbox_events (id, event_type, aggregate_type, aggregate_id, payload, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.EventType,
		e.AggregateType,
		e.AggregateID,
		e.Payload,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event %s: %w", e.ID, err)
	}
	return nil
}

// FetchPending locks the oldest unpublished rows. SKIP LOCKED lets several
// dispatcher replicas share one table without picking the same rows.
func (r *postgresRepository) FetchPending(ctx context.Context, q database.Querier, limit int) ([]Event, error) {
	query := `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, created_at, published_at, attempts, last_error
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e           Event
			publishedAt sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.AggregateType,
			&e.AggregateID,
			&e.Payload,
			&e.CreatedAt,
			&publishedAt,
			&e.Attempts,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if publishedAt.Valid {
			e.PublishedAt = &publishedAt.Time
		}
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

func (r *postgresRepository) MarkPublished(ctx context.Context, q database.Querier, id string, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET published_at = $1
		WHERE id = $2 AND published_at IS NULL
	`
	if _, err := q.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to mark outbox event %s as published: %w", id, err)
	}
	return nil
}

func (r *postgresRepository) MarkFailed(ctx context.Context, q database.Querier, id string, cause error) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $1
		WHERE id = $2
	`
	if _, err := q.ExecContext(ctx, query, truncateError(cause), id); err != nil {
		return fmt.Errorf("failed to record outbox failure for %s: %w", id, err)
	}
	return nil
}

func (r *postgresRepository) CountPending(ctx context.Context, q database.Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return n, nil
}
