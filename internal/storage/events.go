package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

// InsertEvents bulk-inserts one ingestion batch via COPY and returns the row
// count. Defaults are applied here so the buffer can hand rows over as-is:
// missing IDs are generated, missing timestamps become the receive time.
func (db *DB) InsertEvents(ctx context.Context, events []model.ClientEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	columns := []string{"id", "user_id", "event_type", "occurred_at", "session_id", "payload", "created_at"}
	rows := make([][]any, len(events))
	for i, e := range events {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		occurredAt := e.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = now
		}
		payload := e.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		rows[i] = []any{id, e.UserID, e.EventType, occurredAt, e.SessionID, payload, now}
	}

	// Dedicated 30s COPY timeout prevents a hung Postgres from blocking the
	// buffer flush indefinitely.
	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer copyCancel()
	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"client_events"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy events: %w", err)
	}
	return n, nil
}

// ListEvents returns a user's events in [from, to), newest first.
func (db *DB) ListEvents(ctx context.Context, userID uuid.UUID, from, to time.Time, limit int) ([]model.ClientEvent, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, event_type, occurred_at, session_id, payload, created_at
		 FROM client_events
		 WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 ORDER BY occurred_at DESC
		 LIMIT $4`, userID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	events := []model.ClientEvent{}
	for rows.Next() {
		var e model.ClientEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.OccurredAt,
			&e.SessionID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read events: %w", err)
	}
	return events, nil
}

// EventCursor is a keyset position inside a user's event history, used by
// export pagination.
type EventCursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// ExportEvents returns one page of a user's events for export, newest first,
// resuming after cursor. Keyset pagination on (occurred_at, id) keeps every
// page cheap regardless of how deep the scan is.
func (db *DB) ExportEvents(ctx context.Context, userID uuid.UUID, cursor *EventCursor, limit int) ([]model.ClientEvent, error) {
	limit = clampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor == nil {
		rows, err = db.pool.Query(ctx,
			`SELECT id, user_id, event_type, occurred_at, session_id, payload, created_at
			 FROM client_events
			 WHERE user_id = $1
			 ORDER BY occurred_at DESC, id DESC
			 LIMIT $2`, userID, limit)
	} else {
		rows, err = db.pool.Query(ctx,
			`SELECT id, user_id, event_type, occurred_at, session_id, payload, created_at
			 FROM client_events
			 WHERE user_id = $1 AND (occurred_at, id) < ($2, $3)
			 ORDER BY occurred_at DESC, id DESC
			 LIMIT $4`, userID, cursor.OccurredAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: export events: %w", err)
	}
	defer rows.Close()

	events := []model.ClientEvent{}
	for rows.Next() {
		var e model.ClientEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.OccurredAt,
			&e.SessionID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan exported event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read exported events: %w", err)
	}
	return events, nil
}

// EventTypeCount is one row of the per-type engagement aggregate.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// EventTypeCounts aggregates a user's events by type over [from, to),
// most frequent first.
func (db *DB) EventTypeCounts(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]EventTypeCount, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT event_type, count(*)
		 FROM client_events
		 WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 GROUP BY event_type
		 ORDER BY count(*) DESC, event_type ASC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: event type counts: %w", err)
	}
	defer rows.Close()

	counts := []EventTypeCount{}
	for rows.Next() {
		var c EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("storage: scan event type count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read event type counts: %w", err)
	}
	return counts, nil
}

// ActiveDays returns the distinct UTC dates on which a user emitted events in
// [from, to), ascending. Insights uses it alongside meal logs to surface
// engagement gaps.
func (db *DB) ActiveDays(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT (occurred_at AT TIME ZONE 'UTC')::date AS day
		 FROM client_events
		 WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 ORDER BY day ASC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: active days: %w", err)
	}
	defer rows.Close()

	days := []time.Time{}
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("storage: scan active day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read active days: %w", err)
	}
	return days, nil
}
