// Package rules implements the personalization engine: predicate evaluation
// over user traits, and priority-ordered rule resolution into a feature set
// plus a layout choice for a UI area.
//
// The engine is deliberately fail-open. A malformed predicate over-matches
// instead of erroring, a missing layout resolves to an empty descriptor, and
// no rule misconfiguration can take layout resolution down. The only errors
// Resolve returns are infrastructure failures from its sources.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
)

// ErrNoLayout reports that no layout is stored for a requested key or area.
// Sources return it so the resolver can tell absence (resolve to an empty
// descriptor) from infrastructure failure (propagate).
var ErrNoLayout = errors.New("rules: layout not found")

// TraitSource supplies a user's current traits as a flat key/value map.
type TraitSource interface {
	Traits(ctx context.Context, userID uuid.UUID) (map[string]string, error)
}

// RuleSource supplies the active rule set sorted ascending by priority, ties
// broken by creation time then id. The resolver trusts this order; it is what
// makes resolution deterministic when priorities collide.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// LayoutSource supplies layout descriptors and the per-area fallback.
type LayoutSource interface {
	// Layout returns the descriptor stored under key, or ErrNoLayout.
	Layout(ctx context.Context, key string) (model.Layout, error)

	// FallbackKey returns the lexicographically lowest layout key
	// registered for area, or ErrNoLayout when the area has none.
	FallbackKey(ctx context.Context, area model.Area) (string, error)
}

// Rule is an active rule prepared for evaluation: predicate and effects are
// parsed once at load time, not re-inspected per resolution.
type Rule struct {
	ID        uuid.UUID
	Name      string
	Priority  int
	Predicate Node
	Effects   Effects
}

// Prepare converts a stored rule into its evaluable form.
func Prepare(r model.Rule) Rule {
	return Rule{
		ID:        r.ID,
		Name:      r.Name,
		Priority:  r.Priority,
		Predicate: ParsePredicate(r.Predicate),
		Effects:   ParseEffects(r.Effects),
	}
}

// PrepareAll converts a slice of stored rules, preserving order.
func PrepareAll(stored []model.Rule) []Rule {
	prepared := make([]Rule, 0, len(stored))
	for _, r := range stored {
		prepared = append(prepared, Prepare(r))
	}
	return prepared
}

// Resolver computes which features and layout a user sees on an area.
//
// Resolution is a pure fold over (traits, rules, layouts): every call reads
// fresh from the sources and mutates nothing, so concurrent resolutions need
// no locking and callers that want caching wrap the sources, not the
// resolver.
type Resolver struct {
	traits  TraitSource
	rules   RuleSource
	layouts LayoutSource
}

// NewResolver creates a resolver over the given sources.
func NewResolver(traits TraitSource, rules RuleSource, layouts LayoutSource) *Resolver {
	return &Resolver{traits: traits, rules: rules, layouts: layouts}
}

// Resolve evaluates every active rule against the user's traits and folds the
// matching rules' effects into a Resolution.
//
// Features accumulate across all matching rules as an insertion-ordered,
// de-duplicated union. The layout key is first-match-wins: once a matching
// rule sets it, later rules cannot override it, which is why a low-priority
// rule with an empty predicate works as the default layout. The scan never
// exits early; rules after the layout choice still contribute features.
// Extra effect keys are first-match-wins per key.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, area model.Area) (model.Resolution, error) {
	traits, err := r.traits.Traits(ctx, userID)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("rules: load traits: %w", err)
	}
	active, err := r.rules.ActiveRules(ctx)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("rules: load rules: %w", err)
	}

	facts := FactMap(traits)
	features := []string{}
	seen := make(map[string]struct{})
	var layoutKey *string
	var extras map[string]json.RawMessage

	for _, rule := range active {
		if !Evaluate(rule.Predicate, facts) {
			continue
		}
		for _, feature := range rule.Effects.Features {
			if _, dup := seen[feature]; dup {
				continue
			}
			seen[feature] = struct{}{}
			features = append(features, feature)
		}
		if layoutKey == nil && rule.Effects.Layout != nil {
			layoutKey = rule.Effects.Layout
		}
		for key, val := range rule.Effects.Extra {
			if extras == nil {
				extras = make(map[string]json.RawMessage)
			}
			if _, dup := extras[key]; !dup {
				extras[key] = val
			}
		}
	}

	key := ""
	if layoutKey != nil {
		key = *layoutKey
	} else {
		key, err = r.layouts.FallbackKey(ctx, area)
		if errors.Is(err, ErrNoLayout) {
			return model.Resolution{Features: features, Extras: extras, Layout: model.EmptyLayout(area)}, nil
		}
		if err != nil {
			return model.Resolution{}, fmt.Errorf("rules: fallback layout for area %s: %w", area, err)
		}
	}

	layout, err := r.layouts.Layout(ctx, key)
	if errors.Is(err, ErrNoLayout) {
		return model.Resolution{Features: features, Extras: extras, Layout: model.EmptyLayout(area)}, nil
	}
	if err != nil {
		return model.Resolution{}, fmt.Errorf("rules: load layout %q: %w", key, err)
	}

	return model.Resolution{Features: features, Extras: extras, Layout: layout}, nil
}
