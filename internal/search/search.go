// Package search provides semantic food search over an external vector index
// with transparent fallback to pgvector and plain text search in Postgres.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
)

// Result holds a food ID and its raw similarity score from the search index.
// The caller hydrates full Food rows from Postgres (source of truth).
type Result struct {
	FoodID uuid.UUID
	Score  float32
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns food IDs matching the query vector. tags, when
	// non-empty, restricts results to foods carrying every listed tag.
	Search(ctx context.Context, embedding []float32, tags []string, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error
	// describing the problem.
	Healthy(ctx context.Context) error
}

// Hydrate joins raw index results with their Postgres rows, sorts by score
// descending, and truncates to limit. IDs with no row are dropped: the food
// was deleted between index lookup and hydration.
func Hydrate(results []Result, foods map[uuid.UUID]model.Food, limit int) []model.FoodSearchResult {
	hydrated := make([]model.FoodSearchResult, 0, len(results))
	for _, r := range results {
		f, ok := foods[r.FoodID]
		if !ok {
			continue
		}
		hydrated = append(hydrated, model.FoodSearchResult{Food: f, Score: r.Score})
	}

	sort.SliceStable(hydrated, func(i, j int) bool {
		return hydrated[i].Score > hydrated[j].Score
	})

	if len(hydrated) > limit {
		hydrated = hydrated[:limit]
	}
	return hydrated
}

// filterByTags keeps results whose food carries every requested tag. Used on
// the Postgres fallback paths, which cannot filter in the index.
func filterByTags(results []model.FoodSearchResult, tags []string) []model.FoodSearchResult {
	if len(tags) == 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if hasAllTags(r.Food.Tags, tags) {
			kept = append(kept, r)
		}
	}
	return kept
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

/// FoodText renders a catalog row as the text that gets embedded: name, brand,
// and tags in fixed order, so the same row always embeds identically.
func FoodText(f model.Food) string {
	parts := []string{f.Name}
	if f.Brand != nil && *f.Brand != "" {
		parts = append(parts, *f.Brand)
	}
	parts = append(parts, f.Tags...)
	return strings.Join(parts, ", ")
}
