package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/event"
)

const (
	appendEventSQL = `INSERT INTO outbox_events (id, type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	unpublishedEventsSQL = `SELECT id, type, aggregate_id, payload, created_at
		FROM outbox_events WHERE published_at IS NULL
		ORDER BY created_at, id LIMIT $1`

	markEventsPublishedSQL = `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`
)

var _ event.Repository = (*EventRepository)(nil)

// EventRepository drains the transactional outbox.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository returns an EventRepository that uses the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Unpublished(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := r.pool.Query(ctx, unpublishedEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unpublished events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Event, error) {
		var e event.Event
		err := row.Scan(&e.ID, &e.Type, &e.AggregateID, &e.Payload, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing unpublished events: %w", err)
	}
	return events, nil
}

func (r *EventRepository) MarkPublished(ctx context.Context, ids []string) error {
	if _, err := r.pool.Exec(ctx, markEventsPublishedSQL, ids); err != nil {
		return fmt.Errorf("marking %d events published: %w", len(ids), err)
	}
	return nil
}

type txEvents struct {
	q querier
}

func (t txEvents) Append(ctx context.Context, e event.Event) error {
	if _, err := t.q.Exec(ctx, appendEventSQL, e.ID, e.Type, e.AggregateID, e.Payload, e.CreatedAt); err != nil {
		return fmt.Errorf("appending %s event: %w", e.Type, err)
	}
	return nil
}
