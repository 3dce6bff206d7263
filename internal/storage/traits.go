package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const traitColumns = `id, user_id, trait_key, trait_value, confidence, source, version, created_at, updated_at`

func scanTrait(row pgx.Row) (model.Trait, error) {
	var t model.Trait
	err := row.Scan(&t.ID, &t.UserID, &t.Key, &t.Value, &t.Confidence, &t.Source, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// UpsertTraits writes a batch of traits for one user in a single transaction.
// Existing (user_id, trait_key) rows are overwritten with a version bump; the
// whole batch lands or none of it does.
func (db *DB) UpsertTraits(ctx context.Context, userID uuid.UUID, inputs []model.TraitInput) ([]model.Trait, error) {
	return db.upsertTraits(ctx, userID, inputs, nil)
}

// UpsertTraitsWithAudit is UpsertTraits plus a mutation audit entry in the
// same transaction.
func (db *DB) UpsertTraitsWithAudit(ctx context.Context, userID uuid.UUID, inputs []model.TraitInput, audit MutationAuditEntry) ([]model.Trait, error) {
	return db.upsertTraits(ctx, userID, inputs, &audit)
}

func (db *DB) upsertTraits(ctx context.Context, userID uuid.UUID, inputs []model.TraitInput, audit *MutationAuditEntry) ([]model.Trait, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin upsert traits tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	traits, err := upsertTraitsTx(ctx, tx, userID, inputs)
	if err != nil {
		return nil, err
	}

	if audit != nil {
		audit.ResourceID = userID.String()
		audit.AfterData = traits
		if err := InsertMutationAuditTx(ctx, tx, *audit); err != nil {
			return nil, fmt.Errorf("storage: audit in upsert traits tx: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit upsert traits tx: %w", err)
	}
	return traits, nil
}

// upsertTraitsTx runs the per-trait upserts inside an existing transaction.
// Onboarding reuses it so account creation and the initial traits commit
// atomically.
func upsertTraitsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, inputs []model.TraitInput) ([]model.Trait, error) {
	traits := make([]model.Trait, 0, len(inputs))
	for _, in := range inputs {
		confidence := 1.0
		if in.Confidence != nil {
			confidence = *in.Confidence
		}
		source := in.Source
		if source == "" {
			source = model.TraitSourceUser
		}

		t, err := scanTrait(tx.QueryRow(ctx,
			`INSERT INTO traits (user_id, trait_key, trait_value, confidence, source)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, trait_key) DO UPDATE SET
			     trait_value = EXCLUDED.trait_value,
			     confidence = EXCLUDED.confidence,
			     source = EXCLUDED.source,
			     version = traits.version + 1,
			     updated_at = now()
			 RETURNING `+traitColumns,
			userID, in.Key, in.Value, confidence, source))
		if err != nil {
			return nil, fmt.Errorf("storage: upsert trait %s: %w", in.Key, err)
		}
		traits = append(traits, t)
	}
	return traits, nil
}

// GetTraits returns all of a user's traits ordered by key.
func (db *DB) GetTraits(ctx context.Context, userID uuid.UUID) ([]model.Trait, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+traitColumns+` FROM traits WHERE user_id = $1 ORDER BY trait_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: get traits: %w", err)
	}
	defer rows.Close()

	traits := []model.Trait{}
	for rows.Next() {
		t, err := scanTrait(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trait: %w", err)
		}
		traits = append(traits, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get traits: %w", err)
	}
	return traits, nil
}

// TraitMap returns the user's traits as the flat key/value view the rules
// engine evaluates against.
func (db *DB) TraitMap(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT trait_key, trait_value FROM traits WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: trait map: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("storage: scan trait pair: %w", err)
		}
		m[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: trait map: %w", err)
	}
	return m, nil
}

// DeleteTrait removes a single trait. Returns ErrNotFound when the user never
// had it.
func (db *DB) DeleteTrait(ctx context.Context, userID uuid.UUID, key string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM traits WHERE user_id = $1 AND trait_key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("storage: delete trait: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSystemTraitTx writes one trait with system provenance inside an
// existing transaction. The subscription webhook uses it to mirror the
// billing tier into the fact base atomically with the subscription row.
func UpsertSystemTraitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key, value string) error {
	_, err := upsertTraitsTx(ctx, tx, userID, []model.TraitInput{{
		Key:    key,
		Value:  value,
		Source: model.TraitSourceSystem,
	}})
	return err
}
