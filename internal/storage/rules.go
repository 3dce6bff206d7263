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

const ruleColumns = `id, name, priority, predicate, effects, active, created_at, updated_at`

func scanRule(row pgx.Row) (model.Rule, error) {
	var r model.Rule
	err := row.Scan(&r.ID, &r.Name, &r.Priority, &r.Predicate, &r.Effects, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanRules(rows pgx.Rows) ([]model.Rule, error) {
	defer rows.Close()
	rules := []model.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read rules: %w", err)
	}
	return rules, nil
}

// ActiveRules returns the evaluable rule set in resolution order: priority
// ascending, ties broken by creation time then id. The order is part of the
// resolver's determinism contract, so it lives in exactly one query.
func (db *DB) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE active
		 ORDER BY priority ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: active rules: %w", err)
	}
	return scanRules(rows)
}

// ListRules returns rules for the admin console, inactive ones included,
// in the same order resolution would consider them.
func (db *DB) ListRules(ctx context.Context, limit, offset int) ([]model.Rule, int, error) {
	limit = clampLimit(limit)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM rules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count rules: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM rules
		 ORDER BY priority ASC, created_at ASC, id ASC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list rules: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// GetRule retrieves one rule by ID.
func (db *DB) GetRule(ctx context.Context, id uuid.UUID) (model.Rule, error) {
	r, err := scanRule(db.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Rule{}, ErrNotFound
		}
		return model.Rule{}, fmt.Errorf("storage: get rule: %w", err)
	}
	return r, nil
}

// CreateRuleWithAudit inserts a rule, records a mutation audit entry, and
// notifies listeners, all in one transaction. Returns ErrConflict when the
// name is taken.
func (db *DB) CreateRuleWithAudit(ctx context.Context, in model.RuleInput, audit MutationAuditEntry) (model.Rule, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Rule{}, fmt.Errorf("storage: begin create rule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	predicate := in.Predicate
	if len(predicate) == 0 {
		predicate = json.RawMessage(`{}`)
	}
	effects := in.Effects
	if len(effects) == 0 {
		effects = json.RawMessage(`{}`)
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	r, err := scanRule(tx.QueryRow(ctx,
		`INSERT INTO rules (name, priority, predicate, effects, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+ruleColumns,
		in.Name, in.Priority, predicate, effects, active))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Rule{}, fmt.Errorf("storage: create rule: %w", ErrConflict)
		}
		return model.Rule{}, fmt.Errorf("storage: create rule: %w", err)
	}

	audit.ResourceID = r.ID.String()
	audit.AfterData = r
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.Rule{}, fmt.Errorf("storage: audit in create rule tx: %w", err)
	}
	if err := notifyRulesChangedTx(ctx, tx, "rule_created", r.ID.String()); err != nil {
		return model.Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Rule{}, fmt.Errorf("storage: commit create rule tx: %w", err)
	}
	return r, nil
}

// UpdateRuleWithAudit applies a partial update; nil fields keep their current
// value. The before image goes into the audit entry.
func (db *DB) UpdateRuleWithAudit(ctx context.Context, id uuid.UUID, name *string, priority *int, predicate, effects json.RawMessage, active *bool, audit MutationAuditEntry) (model.Rule, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Rule{}, fmt.Errorf("storage: begin update rule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanRule(tx.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Rule{}, ErrNotFound
		}
		return model.Rule{}, fmt.Errorf("storage: load rule for update: %w", err)
	}

	after, err := scanRule(tx.QueryRow(ctx,
		`UPDATE rules SET
		     name = COALESCE($2, name),
		     priority = COALESCE($3, priority),
		     predicate = COALESCE($4, predicate),
		     effects = COALESCE($5, effects),
		     active = COALESCE($6, active),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+ruleColumns,
		id, name, priority, predicate, effects, active))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Rule{}, fmt.Errorf("storage: update rule: %w", ErrConflict)
		}
		return model.Rule{}, fmt.Errorf("storage: update rule: %w", err)
	}

	audit.ResourceID = id.String()
	audit.BeforeData = before
	audit.AfterData = after
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.Rule{}, fmt.Errorf("storage: audit in update rule tx: %w", err)
	}
	if err := notifyRulesChangedTx(ctx, tx, "rule_updated", id.String()); err != nil {
		return model.Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Rule{}, fmt.Errorf("storage: commit update rule tx: %w", err)
	}
	return after, nil
}

// DeleteRuleWithAudit removes a rule outright. Deactivation (active=false via
// update) is the reversible path; deletion is for rules that never belonged.
func (db *DB) DeleteRuleWithAudit(ctx context.Context, id uuid.UUID, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete rule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanRule(tx.QueryRow(ctx,
		`DELETE FROM rules WHERE id = $1 RETURNING `+ruleColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: delete rule: %w", err)
	}

	audit.ResourceID = id.String()
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in delete rule tx: %w", err)
	}
	if err := notifyRulesChangedTx(ctx, tx, "rule_deleted", id.String()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete rule tx: %w", err)
	}
	return nil
}

// notifyRulesChangedTx queues a rules-changed notification inside tx.
// Postgres delivers it only on commit, so listeners never see a change that
// rolled back.
func notifyRulesChangedTx(ctx context.Context, tx pgx.Tx, op, id string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelRulesChanged, op+":"+id); err != nil {
		return fmt.Errorf("storage: notify rules changed: %w", err)
	}
	return nil
}
