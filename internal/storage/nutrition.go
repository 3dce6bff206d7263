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

const mealLogColumns = `id, user_id, meal_type, description, food_id, calories, protein_g, carbs_g, fat_g, logged_at, created_at`

func scanMealLog(row pgx.Row) (model.MealLog, error) {
	var m model.MealLog
	err := row.Scan(&m.ID, &m.UserID, &m.MealType, &m.Description, &m.FoodID,
		&m.Calories, &m.ProteinG, &m.CarbsG, &m.FatG, &m.LoggedAt, &m.CreatedAt)
	return m, err
}

// InsertMealLog records one meal for a user. LoggedAt defaults to now.
func (db *DB) InsertMealLog(ctx context.Context, userID uuid.UUID, in model.MealLogInput) (model.MealLog, error) {
	loggedAt := time.Now().UTC()
	if in.LoggedAt != nil {
		loggedAt = in.LoggedAt.UTC()
	}

	m, err := scanMealLog(db.pool.QueryRow(ctx,
		`INSERT INTO meal_logs (user_id, meal_type, description, food_id, calories, protein_g, carbs_g, fat_g, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+mealLogColumns,
		userID, in.MealType, in.Description, in.FoodID,
		in.Calories, in.ProteinG, in.CarbsG, in.FatG, loggedAt))
	if err != nil {
		return model.MealLog{}, fmt.Errorf("storage: insert meal log: %w", err)
	}
	return m, nil
}

// GetMealLog retrieves one meal log, scoped to its owner.
func (db *DB) GetMealLog(ctx context.Context, userID, id uuid.UUID) (model.MealLog, error) {
	m, err := scanMealLog(db.pool.QueryRow(ctx,
		`SELECT `+mealLogColumns+` FROM meal_logs WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MealLog{}, ErrNotFound
		}
		return model.MealLog{}, fmt.Errorf("storage: get meal log: %w", err)
	}
	return m, nil
}

// ListMealLogs returns a user's meals in [from, to), newest first.
func (db *DB) ListMealLogs(ctx context.Context, userID uuid.UUID, from, to time.Time, limit, offset int) ([]model.MealLog, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+mealLogColumns+` FROM meal_logs
		 WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3
		 ORDER BY logged_at DESC, id DESC
		 LIMIT $4 OFFSET $5`, userID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list meal logs: %w", err)
	}
	defer rows.Close()

	logs := []model.MealLog{}
	for rows.Next() {
		m, err := scanMealLog(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan meal log: %w", err)
		}
		logs = append(logs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read meal logs: %w", err)
	}
	return logs, nil
}

// DeleteMealLog removes a meal log, scoped to its owner.
func (db *DB) DeleteMealLog(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM meal_logs WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete meal log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMealsOnDay reports how many meals a user logged on the given UTC date.
// The first-meal-of-day XP bonus checks this before awarding.
func (db *DB) CountMealsOnDay(ctx context.Context, userID uuid.UUID, day time.Time) (int, error) {
	start := utcDate(day)
	end := start.AddDate(0, 0, 1)
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM meal_logs
		 WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3`,
		userID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count meals on day: %w", err)
	}
	return n, nil
}

// DailySummaries aggregates a user's meals per UTC day over [from, to),
// oldest day first. Days without meals produce no row.
func (db *DB) DailySummaries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.DailySummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT (logged_at AT TIME ZONE 'UTC')::date AS day,
		        count(*),
		        count(*) FILTER (WHERE meal_type = 'breakfast'),
		        count(*) FILTER (WHERE meal_type = 'lunch'),
		        count(*) FILTER (WHERE meal_type = 'dinner'),
		        count(*) FILTER (WHERE meal_type = 'snack'),
		        COALESCE(sum(calories), 0),
		        COALESCE(sum(protein_g), 0),
		        COALESCE(sum(carbs_g), 0),
		        COALESCE(sum(fat_g), 0)
		 FROM meal_logs
		 WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3
		 GROUP BY day
		 ORDER BY day ASC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: daily summaries: %w", err)
	}
	defer rows.Close()

	summaries := []model.DailySummary{}
	for rows.Next() {
		s := model.DailySummary{UserID: userID}
		if err := rows.Scan(&s.Day, &s.MealCount,
			&s.BreakfastCnt, &s.LunchCnt, &s.DinnerCnt, &s.SnackCnt,
			&s.TotalCalories, &s.TotalProteinG, &s.TotalCarbsG, &s.TotalFatG); err != nil {
			return nil, fmt.Errorf("storage: scan daily summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read daily summaries: %w", err)
	}
	return summaries, nil
}
