package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const layoutColumns = `key, area, components, created_at, updated_at`

func scanLayout(row pgx.Row) (model.Layout, error) {
	var l model.Layout
	err := row.Scan(&l.Key, &l.Area, &l.Components, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// GetLayout retrieves a layout descriptor by key.
func (db *DB) GetLayout(ctx context.Context, key string) (model.Layout, error) {
	l, err := scanLayout(db.pool.QueryRow(ctx,
		`SELECT `+layoutColumns+` FROM layouts WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Layout{}, ErrNotFound
		}
		return model.Layout{}, fmt.Errorf("storage: get layout: %w", err)
	}
	return l, nil
}

// ListLayouts returns layouts ordered by key, optionally filtered to one area.
func (db *DB) ListLayouts(ctx context.Context, area *model.Area) ([]model.Layout, error) {
	query := `SELECT ` + layoutColumns + ` FROM layouts ORDER BY key ASC`
	args := []any{}
	if area != nil {
		query = `SELECT ` + layoutColumns + ` FROM layouts WHERE area = $1 ORDER BY key ASC`
		args = append(args, *area)
	}
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list layouts: %w", err)
	}
	defer rows.Close()

	layouts := []model.Layout{}
	for rows.Next() {
		l, err := scanLayout(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan layout: %w", err)
		}
		layouts = append(layouts, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read layouts: %w", err)
	}
	return layouts, nil
}

// LowestLayoutKey returns the lexicographically first layout key registered
// for an area. The resolver uses it as the deterministic fallback when no
// matching rule chose a layout. ErrNotFound means the area has no layouts.
func (db *DB) LowestLayoutKey(ctx context.Context, area model.Area) (string, error) {
	var key string
	err := db.pool.QueryRow(ctx,
		`SELECT key FROM layouts WHERE area = $1 ORDER BY key ASC LIMIT 1`, area).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: lowest layout key: %w", err)
	}
	return key, nil
}

// UpsertLayoutWithAudit creates or replaces a layout by key. Layout changes
// feed resolution the same way rule changes do, so the same notification
// channel fires.
func (db *DB) UpsertLayoutWithAudit(ctx context.Context, in model.LayoutInput, audit MutationAuditEntry) (model.Layout, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Layout{}, fmt.Errorf("storage: begin upsert layout tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	components := in.Components
	if components == nil {
		components = []model.LayoutComponent{}
	}

	l, err := scanLayout(tx.QueryRow(ctx,
		`INSERT INTO layouts (key, area, components)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		     area = EXCLUDED.area,
		     components = EXCLUDED.components,
		     updated_at = now()
		 RETURNING `+layoutColumns,
		in.Key, in.Area, components))
	if err != nil {
		return model.Layout{}, fmt.Errorf("storage: upsert layout: %w", err)
	}

	audit.ResourceID = l.Key
	audit.AfterData = l
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.Layout{}, fmt.Errorf("storage: audit in upsert layout tx: %w", err)
	}
	if err := notifyRulesChangedTx(ctx, tx, "layout_upserted", l.Key); err != nil {
		return model.Layout{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Layout{}, fmt.Errorf("storage: commit upsert layout tx: %w", err)
	}
	return l, nil
}

// DeleteLayoutWithAudit removes a layout. Rules that still name the key keep
// working: resolution treats a missing descriptor as the empty layout.
func (db *DB) DeleteLayoutWithAudit(ctx context.Context, key string, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete layout tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanLayout(tx.QueryRow(ctx,
		`DELETE FROM layouts WHERE key = $1 RETURNING `+layoutColumns, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: delete layout: %w", err)
	}

	audit.ResourceID = key
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in delete layout tx: %w", err)
	}
	if err := notifyRulesChangedTx(ctx, tx, "layout_deleted", key); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete layout tx: %w", err)
	}
	return nil
}
