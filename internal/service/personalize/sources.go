package personalize

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/rules"
	"github.com/mindfork/mindfork/internal/storage"
)

// traitSource adapts the store to rules.TraitSource.
type traitSource struct {
	store Store
}

func (t traitSource) Traits(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	return t.store.TraitMap(ctx, userID)
}

// layoutSource adapts the store to rules.LayoutSource. Storage absence maps
// to rules.ErrNoLayout so the resolver falls back instead of failing.
type layoutSource struct {
	store Store
}

func (l layoutSource) Layout(ctx context.Context, key string) (model.Layout, error) {
	layout, err := l.store.GetLayout(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Layout{}, rules.ErrNoLayout
	}
	return layout, err
}

func (l layoutSource) FallbackKey(ctx context.Context, area model.Area) (string, error) {
	key, err := l.store.LowestLayoutKey(ctx, area)
	if errors.Is(err, storage.ErrNotFound) {
		return "", rules.ErrNoLayout
	}
	return key, err
}
