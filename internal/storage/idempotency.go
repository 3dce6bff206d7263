package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotencyLookup describes the current state of an idempotency key lookup.
type IdempotencyLookup struct {
	Completed    bool
	StatusCode   int
	ResponseData json.RawMessage
}

// BeginIdempotency reserves a key for processing.
//
// If this call returns (lookup, nil) with lookup.Completed=true, callers
// should replay the stored response instead of executing the operation again.
// If it returns ErrIdempotencyInProgress, another request is actively
// processing this key.
//
// Stale in-progress keys are NOT taken over — they block retries until the
// background CleanupIdempotencyKeys job removes them. This prevents duplicate
// mutations when the original request committed its work but crashed before
// calling CompleteIdempotency.
func (db *DB) BeginIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key, requestHash string, ttl time.Duration) (IdempotencyLookup, error) {
	expiresAt := time.Now().UTC().Add(ttl)

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, endpoint, idem_key, request_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING`,
		userID, endpoint, key, requestHash, expiresAt)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: begin idempotency: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyLookup{}, nil // caller owns processing
	}

	var (
		storedHash   string
		completed    bool
		statusCode   *int
		responseData []byte
	)
	if err := db.pool.QueryRow(ctx,
		`SELECT request_hash, completed, status_code, response_data
		 FROM idempotency_keys
		 WHERE user_id = $1 AND endpoint = $2 AND idem_key = $3`,
		userID, endpoint, key).
		Scan(&storedHash, &completed, &statusCode, &responseData); err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: lookup idempotency: %w", err)
	}

	if storedHash != requestHash {
		return IdempotencyLookup{}, ErrIdempotencyPayloadMismatch
	}
	if completed {
		code := 0
		if statusCode != nil {
			code = *statusCode
		}
		return IdempotencyLookup{
			Completed:    true,
			StatusCode:   code,
			ResponseData: responseData,
		}, nil
	}
	return IdempotencyLookup{}, ErrIdempotencyInProgress
}

// CompleteIdempotency stores the final response for a previously reserved key.
func (db *DB) CompleteIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key string, statusCode int, responseData any) error {
	payload, err := json.Marshal(responseData)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE idempotency_keys
		 SET completed = true,
		     status_code = $4,
		     response_data = $5::jsonb
		 WHERE user_id = $1 AND endpoint = $2 AND idem_key = $3
		   AND NOT completed`,
		userID, endpoint, key, statusCode, payload)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete idempotency: key not found or already completed")
	}
	return nil
}

// ClearInProgressIdempotency removes an in-progress reservation so the client
// can retry. Called when processing fails before a response exists.
func (db *DB) ClearInProgressIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE user_id = $1 AND endpoint = $2 AND idem_key = $3
		   AND NOT completed`,
		userID, endpoint, key)
	if err != nil {
		return fmt.Errorf("storage: clear idempotency: %w", err)
	}
	return nil
}

// CleanupIdempotencyKeys removes expired records and abandoned in-progress
// records older than inProgressTTL.
func (db *DB) CleanupIdempotencyKeys(ctx context.Context, inProgressTTL time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE expires_at < now()
		    OR (NOT completed AND created_at < now() - ($1 * interval '1 microsecond'))`,
		inProgressTTL.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
