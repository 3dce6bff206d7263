package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const xpColumns = `id, user_id, amount, reason, ref_id, created_at`

func scanXPEntry(row pgx.Row) (model.XPEntry, error) {
	var e model.XPEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &e.RefID, &e.CreatedAt)
	return e, err
}

// InsertXP appends one XP award. When refID is set the (user, reason, ref)
// pair is unique, so retried writes award nothing and return awarded=false.
func (db *DB) InsertXP(ctx context.Context, userID uuid.UUID, amount int, reason string, refID *uuid.UUID) (model.XPEntry, bool, error) {
	e, err := scanXPEntry(db.pool.QueryRow(ctx,
		`INSERT INTO xp_ledger (user_id, amount, reason, ref_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, reason, ref_id) WHERE ref_id IS NOT NULL DO NOTHING
		 RETURNING `+xpColumns,
		userID, amount, reason, refID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.XPEntry{}, false, nil
		}
		return model.XPEntry{}, false, fmt.Errorf("storage: insert xp: %w", err)
	}
	return e, true, nil
}

// TotalXP sums a user's ledger.
func (db *DB) TotalXP(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(amount), 0) FROM xp_ledger WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: total xp: %w", err)
	}
	return total, nil
}

// ListXP returns a user's ledger entries, newest first.
func (db *DB) ListXP(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.XPEntry, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+xpColumns+` FROM xp_ledger
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list xp: %w", err)
	}
	defer rows.Close()

	entries := []model.XPEntry{}
	for rows.Next() {
		e, err := scanXPEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan xp entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read xp entries: %w", err)
	}
	return entries, nil
}

// XPAwardAmounts loads the enabled award configuration as reason -> amount.
func (db *DB) XPAwardAmounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT reason, amount FROM xp_awards WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("storage: xp award amounts: %w", err)
	}
	defer rows.Close()

	amounts := make(map[string]int)
	for rows.Next() {
		var reason string
		var amount int
		if err := rows.Scan(&reason, &amount); err != nil {
			return nil, fmt.Errorf("storage: scan xp award: %w", err)
		}
		amounts[reason] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read xp awards: %w", err)
	}
	return amounts, nil
}

// GetStreak returns a user's streak row, or ErrNotFound if the user has
// never been active.
func (db *DB) GetStreak(ctx context.Context, userID uuid.UUID) (model.Streak, error) {
	var s model.Streak
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, current_streak, best_streak, last_active, updated_at
		 FROM streaks WHERE user_id = $1`, userID).
		Scan(&s.UserID, &s.Current, &s.Best, &s.LastActive, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Streak{}, ErrNotFound
		}
		return model.Streak{}, fmt.Errorf("storage: get streak: %w", err)
	}
	return s, nil
}

// TouchStreak records activity on the given day (UTC date) and applies the
// streak transition: same day or older is a no-op, the next consecutive day
// increments, anything later resets to 1. Runs under row lock so concurrent
// activity writes for one user serialize; deadlocks with other row-locking
// writes are retried.
func (db *DB) TouchStreak(ctx context.Context, userID uuid.UUID, at time.Time) (model.Streak, error) {
	var s model.Streak
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		var err error
		s, err = db.touchStreakTx(ctx, userID, at)
		return err
	})
	return s, err
}

func (db *DB) touchStreakTx(ctx context.Context, userID uuid.UUID, at time.Time) (model.Streak, error) {
	day := utcDate(at)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Streak{}, fmt.Errorf("storage: begin touch streak tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur, best int
	var last *time.Time
	err = tx.QueryRow(ctx,
		`SELECT current_streak, best_streak, last_active FROM streaks
		 WHERE user_id = $1 FOR UPDATE`, userID).Scan(&cur, &best, &last)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		var s model.Streak
		err = tx.QueryRow(ctx,
			`INSERT INTO streaks (user_id, current_streak, best_streak, last_active)
			 VALUES ($1, 1, 1, $2)
			 RETURNING user_id, current_streak, best_streak, last_active, updated_at`,
			userID, day).
			Scan(&s.UserID, &s.Current, &s.Best, &s.LastActive, &s.UpdatedAt)
		if err != nil {
			return model.Streak{}, fmt.Errorf("storage: init streak: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return model.Streak{}, fmt.Errorf("storage: commit touch streak tx: %w", err)
		}
		return s, nil
	case err != nil:
		return model.Streak{}, fmt.Errorf("storage: load streak: %w", err)
	}

	switch {
	case last != nil && !day.After(utcDate(*last)):
		// Activity on an already-counted (or earlier) day changes nothing.
	case last != nil && day.Equal(utcDate(*last).AddDate(0, 0, 1)):
		cur++
	default:
		cur = 1
	}
	if cur > best {
		best = cur
	}
	newLast := day
	if last != nil && utcDate(*last).After(day) {
		newLast = utcDate(*last)
	}

	var s model.Streak
	err = tx.QueryRow(ctx,
		`UPDATE streaks SET current_streak = $2, best_streak = $3, last_active = $4, updated_at = now()
		 WHERE user_id = $1
		 RETURNING user_id, current_streak, best_streak, last_active, updated_at`,
		userID, cur, best, newLast).
		Scan(&s.UserID, &s.Current, &s.Best, &s.LastActive, &s.UpdatedAt)
	if err != nil {
		return model.Streak{}, fmt.Errorf("storage: update streak: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Streak{}, fmt.Errorf("storage: commit touch streak tx: %w", err)
	}
	return s, nil
}

// utcDate truncates t to its UTC calendar date.
func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
