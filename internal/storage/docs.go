package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mindfork/mindfork/internal/model"
)

const docColumns = `id, doc_key, doc_name, doc_category, content, summary, last_updated`

func scanDoc(row pgx.Row) (model.ProjectDoc, error) {
	var d model.ProjectDoc
	err := row.Scan(&d.ID, &d.DocKey, &d.DocName, &d.DocCategory, &d.Content, &d.Summary, &d.LastUpdated)
	return d, err
}

// UpsertProjectDoc creates or replaces a documentation entry by doc_key.
// The docs seeder calls this on every run.
func (db *DB) UpsertProjectDoc(ctx context.Context, d model.ProjectDoc) (model.ProjectDoc, error) {
	saved, err := scanDoc(db.pool.QueryRow(ctx,
		`INSERT INTO project_documentation (doc_key, doc_name, doc_category, content, summary)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (doc_key) DO UPDATE SET
		     doc_name = EXCLUDED.doc_name,
		     doc_category = EXCLUDED.doc_category,
		     content = EXCLUDED.content,
		     summary = EXCLUDED.summary,
		     last_updated = now()
		 RETURNING `+docColumns,
		d.DocKey, d.DocName, d.DocCategory, d.Content, d.Summary))
	if err != nil {
		return model.ProjectDoc{}, fmt.Errorf("storage: upsert project doc: %w", err)
	}
	return saved, nil
}

// GetProjectDoc retrieves one documentation entry by key.
func (db *DB) GetProjectDoc(ctx context.Context, docKey string) (model.ProjectDoc, error) {
	d, err := scanDoc(db.pool.QueryRow(ctx,
		`SELECT `+docColumns+` FROM project_documentation WHERE doc_key = $1`, docKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ProjectDoc{}, ErrNotFound
		}
		return model.ProjectDoc{}, fmt.Errorf("storage: get project doc: %w", err)
	}
	return d, nil
}

// ListProjectDocs returns documentation entries grouped by category then key.
// Content is included; docs are small by construction.
func (db *DB) ListProjectDocs(ctx context.Context) ([]model.ProjectDoc, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+docColumns+` FROM project_documentation
		 ORDER BY doc_category ASC, doc_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list project docs: %w", err)
	}
	defer rows.Close()

	docs := []model.ProjectDoc{}
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan project doc: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read project docs: %w", err)
	}
	return docs, nil
}
