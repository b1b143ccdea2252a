package events

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by the stores.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists events into payment_events.
type PGStore struct {
	DB Querier
}

// InsertEvent implements EventStore.
func (s PGStore) InsertEvent(ctx context.Context, event Event) (Event, error) {
	const q = `INSERT INTO payment_events (id, topic, order_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING occurred_at`
	if err := s.DB.QueryRow(ctx, q, event.ID, event.Topic, event.OrderID, []byte(event.Payload), event.OccurredAt).
		Scan(&event.OccurredAt); err != nil {
		return Event{}, err
	}
	return event, nil
}
