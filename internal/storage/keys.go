package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const serviceKeyColumns = `id, name, role, key_hash, created_at, last_used_at, revoked_at`

func scanServiceKey(row pgx.Row) (model.ServiceKey, error) {
	var k model.ServiceKey
	err := row.Scan(&k.ID, &k.Name, &k.Role, &k.KeyHash, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
	return k, err
}

// CreateServiceKeyWithAudit inserts a service key and a mutation audit entry
// atomically. The key hash is already computed; plaintext never reaches
// storage.
func (db *DB) CreateServiceKeyWithAudit(ctx context.Context, name string, role model.Role, keyHash string, audit MutationAuditEntry) (model.ServiceKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.ServiceKey{}, fmt.Errorf("storage: begin create service key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	k, err := scanServiceKey(tx.QueryRow(ctx,
		`INSERT INTO service_keys (name, role, key_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+serviceKeyColumns,
		name, role, keyHash))
	if err != nil {
		return model.ServiceKey{}, fmt.Errorf("storage: create service key: %w", err)
	}

	audit.ResourceID = k.ID.String()
	audit.AfterData = k
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.ServiceKey{}, fmt.Errorf("storage: audit in create service key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ServiceKey{}, fmt.Errorf("storage: commit create service key tx: %w", err)
	}
	return k, nil
}

// GetServiceKey retrieves one key by ID, revoked or not. Auth checks
// revocation itself so it can log the distinction.
func (db *DB) GetServiceKey(ctx context.Context, id uuid.UUID) (model.ServiceKey, error) {
	k, err := scanServiceKey(db.pool.QueryRow(ctx,
		`SELECT `+serviceKeyColumns+` FROM service_keys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ServiceKey{}, ErrNotFound
		}
		return model.ServiceKey{}, fmt.Errorf("storage: get service key: %w", err)
	}
	return k, nil
}

// ListServiceKeys returns all keys, newest first, revoked ones included for
// admin visibility.
func (db *DB) ListServiceKeys(ctx context.Context) ([]model.ServiceKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+serviceKeyColumns+` FROM service_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list service keys: %w", err)
	}
	defer rows.Close()

	keys := []model.ServiceKey{}
	for rows.Next() {
		k, err := scanServiceKey(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan service key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read service keys: %w", err)
	}
	return keys, nil
}

// RevokeServiceKeyWithAudit sets revoked_at and records the audit entry
// atomically. Already-revoked keys return ErrNotFound.
func (db *DB) RevokeServiceKeyWithAudit(ctx context.Context, id uuid.UUID, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin revoke service key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanServiceKey(tx.QueryRow(ctx,
		`UPDATE service_keys SET revoked_at = now()
		 WHERE id = $1 AND revoked_at IS NULL
		 RETURNING `+serviceKeyColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: revoke service key: %w", err)
	}

	audit.ResourceID = id.String()
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in revoke service key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit revoke service key tx: %w", err)
	}
	return nil
}

// TouchServiceKeyLastUsed updates last_used_at. Called from auth on success;
// callers fire and forget.
func (db *DB) TouchServiceKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE service_keys SET last_used_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: touch service key last_used: %w", err)
	}
	return nil
}
