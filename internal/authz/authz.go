// Package authz decides which clients' data a caller may read.
//
// This package exists to share access-control logic between the HTTP server
// and the MCP server without creating a circular dependency (both import this
// package; neither imports the other).
package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// GrantStore is the slice of storage that grant checks read.
// *storage.DB satisfies it.
type GrantStore interface {
	ActiveGrant(ctx context.Context, clientID, coachID uuid.UUID) (model.CoachGrant, error)
	ListGrantsByCoach(ctx context.Context, coachID uuid.UUID) ([]model.CoachGrant, error)
}

// CanAccessClient checks whether the authenticated caller may act on data
// belonging to clientID at the given scope. The rules are:
//   - admin: always allowed
//   - any principal: allowed for their own data
//   - coach: requires an unrevoked, unexpired grant from that client whose
//     scope covers need
//   - user: never allowed to touch another user's data
func CanAccessClient(ctx context.Context, store GrantStore, claims *auth.Claims, clientID uuid.UUID, need model.GrantScope) (bool, error) {
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return true, nil
	}

	callerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		slog.Warn("authz: malformed JWT subject, denying access",
			"error", err,
			"role", claims.Role)
		return false, nil
	}

	if callerID == clientID {
		return true, nil
	}

	if claims.Role != model.RoleCoach {
		return false, nil
	}

	g, err := store.ActiveGrant(ctx, clientID, callerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return model.ScopeAtLeast(g.Scope, need), nil
}

// LoadClientScopes returns the clients the caller can read, mapped to the
// granted scope. For admins this returns nil (meaning unrestricted). A
// caller's own ID is always present at write_traits. Pass a cache to skip
// the grant query on repeat calls within the TTL.
func LoadClientScopes(ctx context.Context, store GrantStore, claims *auth.Claims, cache *GrantCache) (map[uuid.UUID]model.GrantScope, error) {
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return nil, nil // nil means unrestricted
	}

	callerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		slog.Warn("authz: malformed JWT subject, denying all access",
			"error", err,
			"role", claims.Role)
		return map[uuid.UUID]model.GrantScope{}, nil // empty set = no access
	}

	if cache != nil {
		if scopes, ok := cache.Get(claims.Subject); ok {
			return scopes, nil
		}
	}

	scopes := map[uuid.UUID]model.GrantScope{
		callerID: model.GrantScopeWriteTraits, // own data
	}
	if claims.Role == model.RoleCoach {
		grants, err := store.ListGrantsByCoach(ctx, callerID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			scopes[g.ClientID] = g.Scope
		}
	}

	if cache != nil {
		cache.Set(claims.Subject, scopes)
	}
	return scopes, nil
}

// FilterProgress removes progress rows for clients outside the caller's
// granted set. Used on coach roster views that aggregate several clients.
func FilterProgress(ctx context.Context, store GrantStore, claims *auth.Claims, rows []model.Progress, cache *GrantCache) ([]model.Progress, error) {
	scopes, err := LoadClientScopes(ctx, store, claims, cache)
	if err != nil {
		return nil, err
	}
	if scopes == nil {
		return rows, nil
	}

	allowed := make([]model.Progress, 0, len(rows))
	for _, r := range rows {
		if _, ok := scopes[r.UserID]; ok {
			allowed = append(allowed, r)
		}
	}
	return allowed, nil
}

// FilterTraits removes trait rows for clients outside the caller's granted
// set.
func FilterTraits(ctx context.Context, store GrantStore, claims *auth.Claims, traits []model.Trait, cache *GrantCache) ([]model.Trait, error) {
	scopes, err := LoadClientScopes(ctx, store, claims, cache)
	if err != nil {
		return nil, err
	}
	if scopes == nil {
		return traits, nil
	}

	allowed := make([]model.Trait, 0, len(traits))
	for _, tr := range traits {
		if _, ok := scopes[tr.UserID]; ok {
			allowed = append(allowed, tr)
		}
	}
	return allowed, nil
}
