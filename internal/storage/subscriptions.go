package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

// GetSubscription returns a user's billing mirror row, or ErrNotFound if no
// webhook has ever reported for them (which the caller reads as free tier).
func (db *DB) GetSubscription(ctx context.Context, userID uuid.UUID) (model.Subscription, error) {
	var s model.Subscription
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, tier, status, expires_at, updated_at
		 FROM subscriptions WHERE user_id = $1`, userID).
		Scan(&s.UserID, &s.Tier, &s.Status, &s.ExpiresAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, ErrNotFound
		}
		return model.Subscription{}, fmt.Errorf("storage: get subscription: %w", err)
	}
	return s, nil
}

// ApplySubscriptionEvent processes one store webhook delivery atomically:
// record the event, upsert the billing mirror, and mirror the tier into the
// subscription_tier trait so rules see it. Redeliveries short-circuit on the
// event_id primary key; applied=false means this delivery was already
// processed and nothing changed.
func (db *DB) ApplySubscriptionEvent(ctx context.Context, ev model.SubscriptionEvent, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin subscription event tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO subscription_events (event_id, user_id, tier, status, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.UserID, ev.Tier, ev.Status, payload)
	if err != nil {
		return false, fmt.Errorf("storage: record subscription event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO subscriptions (user_id, tier, status, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		     tier = EXCLUDED.tier,
		     status = EXCLUDED.status,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		ev.UserID, ev.Tier, ev.Status, ev.ExpiresAt); err != nil {
		return false, fmt.Errorf("storage: upsert subscription: %w", err)
	}

	if err := UpsertSystemTraitTx(ctx, tx, ev.UserID, "subscription_tier", ev.Tier); err != nil {
		return false, fmt.Errorf("storage: mirror tier trait: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit subscription event tx: %w", err)
	}
	return true, nil
}
