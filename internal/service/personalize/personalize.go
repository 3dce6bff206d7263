// Package personalize wires the rules engine to storage: it adapts the
// database into the engine's trait/rule/layout sources, caches the prepared
// rule set across resolutions, and invalidates that cache when any instance
// commits a rule or layout mutation.
//
// Both the HTTP API and the MCP server resolve layouts through this service
// so caching and instrumentation behave identically on every surface.
package personalize

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/rules"
	"github.com/mindfork/mindfork/internal/telemetry"
)

// Store is the storage surface resolution needs. *storage.DB satisfies it.
type Store interface {
	TraitMap(ctx context.Context, userID uuid.UUID) (map[string]string, error)
	ActiveRules(ctx context.Context) ([]model.Rule, error)
	GetLayout(ctx context.Context, key string) (model.Layout, error)
	LowestLayoutKey(ctx context.Context, area model.Area) (string, error)
}

// Notifier is the LISTEN/NOTIFY surface the invalidation loop needs.
type Notifier interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// Service resolves layouts and features for users.
type Service struct {
	store    Store
	cache    *ruleCache
	resolver *rules.Resolver
	logger   *slog.Logger

	resolutions metric.Int64Counter
	reloads     metric.Int64Counter
}

// New creates the personalization service over the given store.
func New(store Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("mindfork/personalize")
	resolutions, _ := meter.Int64Counter("mindfork.resolve.total",
		metric.WithDescription("Layout resolutions served"),
	)
	reloads, _ := meter.Int64Counter("mindfork.rules.reloads",
		metric.WithDescription("Prepared rule set reloads from storage"),
	)

	cache := newRuleCache(store)
	cache.onReload = func(n int) {
		reloads.Add(context.Background(), 1)
		logger.Debug("personalize: rule cache reloaded", "active_rules", n)
	}

	return &Service{
		store:    store,
		cache:    cache,
		resolver: rules.NewResolver(traitSource{store}, cache, layoutSource{store}),
		logger:   logger,

		resolutions: resolutions,
		reloads:     reloads,
	}
}

// Resolve computes the feature set and layout a user sees on an area.
// Traits and layouts are read fresh; the prepared rule set comes from the
// cache and stays valid until a rule or layout mutation notifies.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, area model.Area) (model.Resolution, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("mindfork.area", string(area)),
		attribute.String("mindfork.user_id", userID.String()),
	)

	res, err := s.resolver.Resolve(ctx, userID, area)
	if err != nil {
		return model.Resolution{}, err
	}

	s.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("area", string(area)),
		attribute.Int("features", len(res.Features)),
	))
	return res, nil
}

// Invalidate drops the prepared rule cache. The next resolution reloads.
// Admin handlers call it after local mutations so the mutating instance
// serves fresh rules without waiting for its own notification to arrive.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
}

// Watch listens for rule-change notifications and invalidates the cache on
// each one. It blocks, so call it in a goroutine; it returns when ctx is
// cancelled. Instances without a notify connection fall back to serving the
// cache until their own mutations invalidate it.
func (s *Service) Watch(ctx context.Context, n Notifier, channel string) {
	if err := n.Listen(ctx, channel); err != nil {
		s.logger.Error("personalize: listen for rule changes", "error", err)
		return
	}
	s.logger.Info("personalize: watching for rule changes", "channel", channel)

	for {
		_, payload, err := n.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			s.logger.Warn("personalize: notification error, retrying", "error", err)
			continue
		}
		s.logger.Debug("personalize: rules changed, dropping cache", "change", payload)
		s.cache.Invalidate()
	}
}
