package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/mindfork/mindfork/internal/model"
)

const foodColumns = `id, name, brand, serving_desc, calories, protein_g, carbs_g, fat_g, tags, embedding IS NOT NULL, created_at`

func scanFood(row pgx.Row) (model.Food, error) {
	var f model.Food
	err := row.Scan(&f.ID, &f.Name, &f.Brand, &f.ServingDesc,
		&f.Calories, &f.ProteinG, &f.CarbsG, &f.FatG, &f.Tags, &f.HasEmbedding, &f.CreatedAt)
	return f, err
}

// CreateFood inserts a catalog entry. The embedding starts NULL; the backfill
// worker fills it in.
func (db *DB) CreateFood(ctx context.Context, f model.Food) (model.Food, error) {
	id := f.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	servingDesc := f.ServingDesc
	if servingDesc == "" {
		servingDesc = "100 g"
	}

	created, err := scanFood(db.pool.QueryRow(ctx,
		`INSERT INTO foods (id, name, brand, serving_desc, calories, protein_g, carbs_g, fat_g, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+foodColumns,
		id, f.Name, f.Brand, servingDesc, f.Calories, f.ProteinG, f.CarbsG, f.FatG, tags))
	if err != nil {
		return model.Food{}, fmt.Errorf("storage: create food: %w", err)
	}
	return created, nil
}

// GetFood retrieves one catalog entry.
func (db *DB) GetFood(ctx context.Context, id uuid.UUID) (model.Food, error) {
	f, err := scanFood(db.pool.QueryRow(ctx,
		`SELECT `+foodColumns+` FROM foods WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Food{}, ErrNotFound
		}
		return model.Food{}, fmt.Errorf("storage: get food: %w", err)
	}
	return f, nil
}

// SearchFoodsByName runs full-text search over name and brand, ranked.
func (db *DB) SearchFoodsByName(ctx context.Context, query string, limit int) ([]model.FoodSearchResult, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+foodColumns+`,
		        ts_rank(to_tsvector('simple', name || ' ' || coalesce(brand, '')),
		                plainto_tsquery('simple', $1)) AS rank
		 FROM foods
		 WHERE to_tsvector('simple', name || ' ' || coalesce(brand, '')) @@ plainto_tsquery('simple', $1)
		 ORDER BY rank DESC, name ASC
		 LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search foods by name: %w", err)
	}
	return scanFoodResults(rows)
}

// SearchFoodsByEmbedding runs cosine-similarity search over the catalog.
// Rows without an embedding never match.
func (db *DB) SearchFoodsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]model.FoodSearchResult, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+foodColumns+`,
		        (1 - (embedding <=> $1)) AS similarity
		 FROM foods
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search foods by embedding: %w", err)
	}
	return scanFoodResults(rows)
}

func scanFoodResults(rows pgx.Rows) ([]model.FoodSearchResult, error) {
	defer rows.Close()
	results := []model.FoodSearchResult{}
	for rows.Next() {
		var f model.Food
		var score float32
		if err := rows.Scan(&f.ID, &f.Name, &f.Brand, &f.ServingDesc,
			&f.Calories, &f.ProteinG, &f.CarbsG, &f.FatG, &f.Tags, &f.HasEmbedding, &f.CreatedAt,
			&score); err != nil {
			return nil, fmt.Errorf("storage: scan food result: %w", err)
		}
		results = append(results, model.FoodSearchResult{Food: f, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read food results: %w", err)
	}
	return results, nil
}

// FoodsMissingEmbedding returns up to limit catalog rows that need an
// embedding, oldest first so the backfill makes steady progress.
func (db *DB) FoodsMissingEmbedding(ctx context.Context, limit int) ([]model.Food, error) {
	limit = clampLimit(limit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+foodColumns+` FROM foods
		 WHERE embedding IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: foods missing embedding: %w", err)
	}
	defer rows.Close()

	foods := []model.Food{}
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan food: %w", err)
		}
		foods = append(foods, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read foods: %w", err)
	}
	return foods, nil
}

// CountFoodsMissingEmbedding reports the embedding backfill backlog.
func (db *DB) CountFoodsMissingEmbedding(ctx context.Context) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM foods WHERE embedding IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count foods missing embedding: %w", err)
	}
	return n, nil
}

// GetFoodsByIDs hydrates catalog rows by ID. Missing IDs are simply absent
// from the result; search callers treat those as deleted between index
// lookup and hydration.
func (db *DB) GetFoodsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Food, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.Food{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+foodColumns+` FROM foods WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get foods by ids: %w", err)
	}
	defer rows.Close()

	foods := make(map[uuid.UUID]model.Food, len(ids))
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan food: %w", err)
		}
		foods[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read foods: %w", err)
	}
	return foods, nil
}

// SetFoodEmbedding stores the embedding for one catalog row.
func (db *DB) SetFoodEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE foods SET embedding = $2 WHERE id = $1`, id, embedding)
	if err != nil {
		return fmt.Errorf("storage: set food embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
