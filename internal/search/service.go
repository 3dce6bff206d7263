package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/service/embedding"
	"github.com/mindfork/mindfork/internal/telemetry"
)

// maxSearchLimit caps one search response.
const maxSearchLimit = 50

// Store is the Postgres surface food search reads from.
type Store interface {
	SearchFoodsByName(ctx context.Context, query string, limit int) ([]model.FoodSearchResult, error)
	SearchFoodsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]model.FoodSearchResult, error)
	GetFoodsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Food, error)
}

// Service answers food search queries. The search backend degrades in steps:
// external index when configured and healthy, pgvector in Postgres when an
// embedding provider exists, plain text search otherwise. A degraded step is
// logged, never surfaced as an error.
type Service struct {
	store    Store
	provider embedding.Provider // nil disables semantic search
	index    Searcher           // nil disables the external index
	logger   *slog.Logger

	queries metric.Int64Counter
}

// NewService creates a food search service.
func NewService(store Store, provider embedding.Provider, index Searcher, logger *slog.Logger) *Service {
	meter := telemetry.Meter("mindfork/search")
	queries, _ := meter.Int64Counter("mindfork.search.queries",
		metric.WithDescription("Food search queries by backend"),
	)
	return &Service{
		store:    store,
		provider: provider,
		index:    index,
		logger:   logger,
		queries:  queries,
	}
}

// Search runs a food search. tags, when non-empty, restricts results to
// foods carrying every listed tag.
func (s *Service) Search(ctx context.Context, query string, tags []string, limit int) ([]model.FoodSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	if s.provider == nil {
		return s.textSearch(ctx, query, tags, limit)
	}

	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("search: embed query failed, falling back to text", "error", err)
		return s.textSearch(ctx, query, tags, limit)
	}

	if s.index != nil {
		if herr := s.index.Healthy(ctx); herr != nil {
			s.logger.Warn("search: index unhealthy, falling back to pgvector", "error", herr)
		} else {
			results, err := s.index.Search(ctx, vec.Slice(), tags, limit)
			if err != nil {
				s.logger.Warn("search: index query failed, falling back to pgvector", "error", err)
			} else {
				foods, err := s.store.GetFoodsByIDs(ctx, foodIDs(results))
				if err != nil {
					return nil, fmt.Errorf("search: hydrate results: %w", err)
				}
				s.record(ctx, "qdrant")
				return Hydrate(results, foods, limit), nil
			}
		}
	}

	// Over-fetch when tags filter after the fact, so a filtered page can
	// still fill up.
	fetch := limit
	if len(tags) > 0 {
		fetch = limit * 3
	}
	results, err := s.store.SearchFoodsByEmbedding(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("search: pgvector query: %w", err)
	}
	s.record(ctx, "pgvector")
	return truncate(filterByTags(results, tags), limit), nil
}

func (s *Service) textSearch(ctx context.Context, query string, tags []string, limit int) ([]model.FoodSearchResult, error) {
	fetch := limit
	if len(tags) > 0 {
		fetch = limit * 3
	}
	results, err := s.store.SearchFoodsByName(ctx, query, fetch)
	if err != nil {
		return nil, fmt.Errorf("search: text query: %w", err)
	}
	s.record(ctx, "text")
	return truncate(filterByTags(results, tags), limit), nil
}

func (s *Service) record(ctx context.Context, backend string) {
	if s.queries != nil {
		s.queries.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

func foodIDs(results []Result) []uuid.UUID {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.FoodID
	}
	return ids
}

func truncate(results []model.FoodSearchResult, limit int) []model.FoodSearchResult {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
