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

const grantColumns = `id, client_id, coach_id, scope, granted_at, expires_at, revoked_at, granted_by`

func scanGrant(row pgx.Row) (model.CoachGrant, error) {
	var g model.CoachGrant
	err := row.Scan(&g.ID, &g.ClientID, &g.CoachID, &g.Scope,
		&g.GrantedAt, &g.ExpiresAt, &g.RevokedAt, &g.GrantedByID)
	return g, err
}

// CreateCoachGrant records that a client granted a coach access. At most one
// unrevoked grant exists per (client, coach) pair; a second attempt returns
// ErrConflict rather than silently widening scope.
func (db *DB) CreateCoachGrant(ctx context.Context, clientID, coachID uuid.UUID, scope model.GrantScope, expiresAt *time.Time, grantedBy uuid.UUID) (model.CoachGrant, error) {
	g, err := scanGrant(db.pool.QueryRow(ctx,
		`INSERT INTO coach_grants (client_id, coach_id, scope, expires_at, granted_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+grantColumns,
		clientID, coachID, scope, expiresAt, grantedBy))
	if err != nil {
		if isUniqueViolation(err) {
			return model.CoachGrant{}, fmt.Errorf("storage: create coach grant: %w", ErrConflict)
		}
		return model.CoachGrant{}, fmt.Errorf("storage: create coach grant: %w", err)
	}
	return g, nil
}

// RevokeCoachGrant marks a grant revoked. Scoped to the client so one user
// cannot revoke another's grants. Already-revoked grants return ErrNotFound.
func (db *DB) RevokeCoachGrant(ctx context.Context, clientID, grantID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE coach_grants SET revoked_at = now()
		 WHERE id = $1 AND client_id = $2 AND revoked_at IS NULL`, grantID, clientID)
	if err != nil {
		return fmt.Errorf("storage: revoke coach grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGrantsByClient returns a client's unrevoked grants, newest first.
// Expired grants are included so the client can see and clean them up.
func (db *DB) ListGrantsByClient(ctx context.Context, clientID uuid.UUID) ([]model.CoachGrant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM coach_grants
		 WHERE client_id = $1 AND revoked_at IS NULL
		 ORDER BY granted_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants by client: %w", err)
	}
	return scanGrants(rows)
}

// ListGrantsByCoach returns the currently usable grants naming a coach:
// unrevoked and unexpired. This is the coach's client roster.
func (db *DB) ListGrantsByCoach(ctx context.Context, coachID uuid.UUID) ([]model.CoachGrant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM coach_grants
		 WHERE coach_id = $1 AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY granted_at DESC`, coachID)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants by coach: %w", err)
	}
	return scanGrants(rows)
}

func scanGrants(rows pgx.Rows) ([]model.CoachGrant, error) {
	defer rows.Close()
	grants := []model.CoachGrant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan coach grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read coach grants: %w", err)
	}
	return grants, nil
}

// ActiveGrant returns the usable grant between a client and a coach, if any.
// The caller checks the returned scope. ErrNotFound means no access.
func (db *DB) ActiveGrant(ctx context.Context, clientID, coachID uuid.UUID) (model.CoachGrant, error) {
	g, err := scanGrant(db.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM coach_grants
		 WHERE client_id = $1 AND coach_id = $2 AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())`, clientID, coachID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CoachGrant{}, ErrNotFound
		}
		return model.CoachGrant{}, fmt.Errorf("storage: active grant: %w", err)
	}
	return g, nil
}
