package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeleteUserResult counts the rows removed per table by an account deletion.
type DeleteUserResult struct {
	MealLogs           int64 `json:"meal_logs"`
	XPEntries          int64 `json:"xp_entries"`
	Streaks            int64 `json:"streaks"`
	Traits             int64 `json:"traits"`
	Events             int64 `json:"events"`
	IdempotencyKeys    int64 `json:"idempotency_keys"`
	Grants             int64 `json:"grants"`
	Subscriptions      int64 `json:"subscriptions"`
	SubscriptionEvents int64 `json:"subscription_events"`
	Users              int64 `json:"users"`
}

// DeleteUserData erases a user and everything keyed to them in one
// transaction. Tables with an ON DELETE CASCADE foreign key would go with the
// user row anyway; they are deleted explicitly so the result reports real
// counts. client_events, idempotency_keys, and subscription_events carry no
// foreign key and MUST be deleted here or they leak.
//
// Only the row counts are audited. The point of deletion is erasure, so no
// copy of the removed data is kept anywhere.
func (db *DB) DeleteUserData(ctx context.Context, userID uuid.UUID, audit MutationAuditEntry) (DeleteUserResult, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return DeleteUserResult{}, fmt.Errorf("storage: begin delete user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result DeleteUserResult

	var exists uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeleteUserResult{}, ErrNotFound
		}
		return DeleteUserResult{}, fmt.Errorf("storage: lookup user for delete: %w", err)
	}

	for _, step := range []struct {
		count *int64
		query string
	}{
		{&result.MealLogs, `DELETE FROM meal_logs WHERE user_id = $1`},
		{&result.XPEntries, `DELETE FROM xp_ledger WHERE user_id = $1`},
		{&result.Streaks, `DELETE FROM streaks WHERE user_id = $1`},
		{&result.Traits, `DELETE FROM traits WHERE user_id = $1`},
		{&result.Events, `DELETE FROM client_events WHERE user_id = $1`},
		{&result.IdempotencyKeys, `DELETE FROM idempotency_keys WHERE user_id = $1`},
		{&result.Grants, `DELETE FROM coach_grants WHERE client_id = $1 OR coach_id = $1`},
		{&result.Subscriptions, `DELETE FROM subscriptions WHERE user_id = $1`},
		{&result.SubscriptionEvents, `DELETE FROM subscription_events WHERE user_id = $1`},
		{&result.Users, `DELETE FROM users WHERE id = $1`},
	} {
		tag, err := tx.Exec(ctx, step.query, userID)
		if err != nil {
			return DeleteUserResult{}, fmt.Errorf("storage: delete user data: %w", err)
		}
		*step.count = tag.RowsAffected()
	}

	audit.ResourceID = userID.String()
	audit.AfterData = result
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return DeleteUserResult{}, fmt.Errorf("storage: audit in delete user tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteUserResult{}, fmt.Errorf("storage: commit delete user tx: %w", err)
	}
	return result, nil
}
