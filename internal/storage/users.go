package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindfork/mindfork/internal/model"
)

const userColumns = `id, email, display_name, role, timezone, metadata, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Timezone, &u.Metadata, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser inserts a new account. Returns ErrConflict when the email is
// already registered (case-insensitive).
func (db *DB) CreateUser(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, role, timezone, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.DisplayName, passwordHash, user.Role, user.Timezone, user.Metadata, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: create user: %w", ErrConflict)
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively, along with
// the stored password hash for credential verification.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (model.User, string, error) {
	var u model.User
	var hash string
	err := db.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Timezone, &u.Metadata, &u.CreatedAt, &u.UpdatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", ErrNotFound
		}
		return model.User{}, "", fmt.Errorf("storage: get user by email: %w", err)
	}
	return u, hash, nil
}

// UpdateUser applies a partial update; nil fields keep their current value.
func (db *DB) UpdateUser(ctx context.Context, id uuid.UUID, displayName, timezone *string, role *model.Role) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`UPDATE users SET
			display_name = COALESCE($2, display_name),
			timezone = COALESCE($3, timezone),
			role = COALESCE($4, role),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns, id, displayName, timezone, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: update user: %w", err)
	}
	return u, nil
}

// ListUsers returns users ordered by creation time, newest first.
func (db *DB) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int, error) {
	limit = clampLimit(limit)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count users: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list users: %w", err)
	}
	return users, total, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// clampLimit bounds a caller-supplied page size to [1, 200], defaulting to 50.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
