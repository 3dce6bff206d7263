package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const personaColumns = `id, key, name, tone, focus, style_rules, is_default, created_at, updated_at`

func scanPersona(row pgx.Row) (model.CoachPersona, error) {
	var p model.CoachPersona
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Tone, &p.Focus,
		&p.StyleRules, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListPersonas returns all coach personas ordered by key.
func (db *DB) ListPersonas(ctx context.Context) ([]model.CoachPersona, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+personaColumns+` FROM coach_personas ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list personas: %w", err)
	}
	defer rows.Close()

	personas := []model.CoachPersona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan persona: %w", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read personas: %w", err)
	}
	return personas, nil
}

// GetPersona retrieves one persona by key.
func (db *DB) GetPersona(ctx context.Context, key string) (model.CoachPersona, error) {
	p, err := scanPersona(db.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM coach_personas WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CoachPersona{}, ErrNotFound
		}
		return model.CoachPersona{}, fmt.Errorf("storage: get persona: %w", err)
	}
	return p, nil
}

// DefaultPersona returns the persona marked default. A partial unique index
// guarantees at most one; ErrNotFound means the seed never ran.
func (db *DB) DefaultPersona(ctx context.Context) (model.CoachPersona, error) {
	p, err := scanPersona(db.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM coach_personas WHERE is_default`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CoachPersona{}, ErrNotFound
		}
		return model.CoachPersona{}, fmt.Errorf("storage: default persona: %w", err)
	}
	return p, nil
}
