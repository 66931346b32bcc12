package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	var aggregateID string
	if e, ok := event.(interface{ AggregateID() string }); ok {
		aggregateID = e.AggregateID()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		aggregateID, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d processed: %w", id, err)
	}
	return nil
}
