package storage

import (
	"context"
	"fmt"
	"time"
)

// TimescaleEnabled reports whether the timescaledb extension is installed.
// Checked once at startup so the retention sweep can pick its strategy.
func (db *DB) TimescaleEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("storage: check timescaledb: %w", err)
	}
	return enabled, nil
}

// DropEventChunks drops TimescaleDB chunks from client_events older than
// olderThan. Returns the number of chunks dropped, not rows; each chunk is
// a time partition. Only valid when TimescaleEnabled.
func (db *DB) DropEventChunks(ctx context.Context, olderThan time.Time) (int64, error) {
	var dropped int64
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM drop_chunks('client_events', $1::timestamptz)`,
		olderThan).Scan(&dropped)
	if err != nil {
		return 0, fmt.Errorf("storage: drop event chunks: %w", err)
	}
	return dropped, nil
}

// DeleteEventsBefore removes one batch of client events older than the
// cutoff and reports how many went. Callers loop until it returns 0. Batches
// keyed by the (id, occurred_at) primary key, which stays correct whether or
// not the table is a hypertable.
func (db *DB) DeleteEventsBefore(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM client_events
		 WHERE (id, occurred_at) IN (
		     SELECT id, occurred_at FROM client_events
		     WHERE occurred_at < $1
		     LIMIT $2
		 )`, before, batchSize)
	if err != nil {
		return 0, fmt.Errorf("storage: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountEventsBefore reports how many client events a retention sweep with
// this cutoff would remove. Used for the dry-run admin endpoint.
func (db *DB) CountEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM client_events WHERE occurred_at < $1`, before).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count events before: %w", err)
	}
	return n, nil
}
