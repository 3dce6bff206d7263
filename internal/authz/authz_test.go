package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// fakeGrantStore serves grants from memory, keyed by (client, coach).
type fakeGrantStore struct {
	grants    map[[2]uuid.UUID]model.CoachGrant
	listCalls int
	err       error
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[[2]uuid.UUID]model.CoachGrant)}
}

func (f *fakeGrantStore) grant(clientID, coachID uuid.UUID, scope model.GrantScope) {
	f.grants[[2]uuid.UUID{clientID, coachID}] = model.CoachGrant{
		ID:       uuid.New(),
		ClientID: clientID,
		CoachID:  coachID,
		Scope:    scope,
	}
}

func (f *fakeGrantStore) ActiveGrant(_ context.Context, clientID, coachID uuid.UUID) (model.CoachGrant, error) {
	if f.err != nil {
		return model.CoachGrant{}, f.err
	}
	g, ok := f.grants[[2]uuid.UUID{clientID, coachID}]
	if !ok {
		return model.CoachGrant{}, storage.ErrNotFound
	}
	return g, nil
}

func (f *fakeGrantStore) ListGrantsByCoach(_ context.Context, coachID uuid.UUID) ([]model.CoachGrant, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.listCalls++
	var out []model.CoachGrant
	for _, g := range f.grants {
		if g.CoachID == coachID {
			out = append(out, g)
		}
	}
	return out, nil
}

// makeClaims creates test claims with the given subject and role.
func makeClaims(subject uuid.UUID, role model.Role) *auth.Claims {
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject.String()},
		Role:             role,
	}
}

func TestCanAccessClient_AdminBypass(t *testing.T) {
	store := newFakeGrantStore()
	claims := makeClaims(uuid.New(), model.RoleAdmin)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, uuid.New(), model.GrantScopeWriteTraits)
	require.NoError(t, err)
	assert.True(t, ok, "admin should access any client")
}

func TestCanAccessClient_SelfAccess(t *testing.T) {
	store := newFakeGrantStore()
	me := uuid.New()
	claims := makeClaims(me, model.RoleUser)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, me, model.GrantScopeWriteTraits)
	require.NoError(t, err)
	assert.True(t, ok, "a user always reaches their own data")
}

func TestCanAccessClient_UserDeniedCrossUser(t *testing.T) {
	store := newFakeGrantStore()
	claims := makeClaims(uuid.New(), model.RoleUser)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, uuid.New(), model.GrantScopeRead)
	require.NoError(t, err)
	assert.False(t, ok, "plain users never read other users")
}

func TestCanAccessClient_CoachWithGrant(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	client := uuid.New()
	store.grant(client, coach, model.GrantScopeRead)
	claims := makeClaims(coach, model.RoleCoach)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, client, model.GrantScopeRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanAccessClient_GrantScopeTooNarrow(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	client := uuid.New()
	store.grant(client, coach, model.GrantScopeRead)
	claims := makeClaims(coach, model.RoleCoach)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, client, model.GrantScopeWriteTraits)
	require.NoError(t, err)
	assert.False(t, ok, "a read grant must not allow trait writes")
}

func TestCanAccessClient_CoachDeniedWithoutGrant(t *testing.T) {
	store := newFakeGrantStore()
	claims := makeClaims(uuid.New(), model.RoleCoach)

	ok, err := authz.CanAccessClient(context.Background(), store, claims, uuid.New(), model.GrantScopeRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessClient_MalformedSubjectDenied(t *testing.T) {
	store := newFakeGrantStore()
	claims := &auth.Claims{Role: model.RoleCoach}
	claims.Subject = "not-a-uuid"

	ok, err := authz.CanAccessClient(context.Background(), store, claims, uuid.New(), model.GrantScopeRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessClient_StoreErrorPropagates(t *testing.T) {
	store := newFakeGrantStore()
	store.err = errors.New("pg down")
	claims := makeClaims(uuid.New(), model.RoleCoach)

	_, err := authz.CanAccessClient(context.Background(), store, claims, uuid.New(), model.GrantScopeRead)
	require.Error(t, err)
}

func TestLoadClientScopes_AdminReturnsNil(t *testing.T) {
	store := newFakeGrantStore()
	claims := makeClaims(uuid.New(), model.RoleAdmin)

	scopes, err := authz.LoadClientScopes(context.Background(), store, claims, nil)
	require.NoError(t, err)
	assert.Nil(t, scopes, "admin should get nil (unrestricted)")
}

func TestLoadClientScopes_UserGetsSelfOnly(t *testing.T) {
	store := newFakeGrantStore()
	me := uuid.New()
	claims := makeClaims(me, model.RoleUser)

	scopes, err := authz.LoadClientScopes(context.Background(), store, claims, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, model.GrantScopeWriteTraits, scopes[me])
	assert.Equal(t, 0, store.listCalls, "user scopes never query the grants table")
}

func TestLoadClientScopes_CoachGetsRoster(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	clientA := uuid.New()
	clientB := uuid.New()
	store.grant(clientA, coach, model.GrantScopeRead)
	store.grant(clientB, coach, model.GrantScopeWriteTraits)
	claims := makeClaims(coach, model.RoleCoach)

	scopes, err := authz.LoadClientScopes(context.Background(), store, claims, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 3)
	assert.Equal(t, model.GrantScopeWriteTraits, scopes[coach], "coach keeps own data")
	assert.Equal(t, model.GrantScopeRead, scopes[clientA])
	assert.Equal(t, model.GrantScopeWriteTraits, scopes[clientB])
}

func TestLoadClientScopes_MalformedSubjectReturnsEmpty(t *testing.T) {
	store := newFakeGrantStore()
	claims := &auth.Claims{Role: model.RoleCoach}
	claims.Subject = "not-a-uuid"

	scopes, err := authz.LoadClientScopes(context.Background(), store, claims, nil)
	require.NoError(t, err)
	assert.NotNil(t, scopes, "should return non-nil (restricted)")
	assert.Empty(t, scopes, "malformed subject should yield empty set (no access)")
}

func TestLoadClientScopes_WithCache(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	store.grant(uuid.New(), coach, model.GrantScopeRead)
	claims := makeClaims(coach, model.RoleCoach)

	cache := authz.NewGrantCache(time.Second)
	defer cache.Close()

	scopes1, err := authz.LoadClientScopes(context.Background(), store, claims, cache)
	require.NoError(t, err)
	require.Len(t, scopes1, 2)

	scopes2, err := authz.LoadClientScopes(context.Background(), store, claims, cache)
	require.NoError(t, err)
	assert.Equal(t, scopes1, scopes2)
	assert.Equal(t, 1, store.listCalls, "second call should hit the cache")
}

func TestFilterProgress(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	client := uuid.New()
	stranger := uuid.New()
	store.grant(client, coach, model.GrantScopeRead)
	claims := makeClaims(coach, model.RoleCoach)

	rows := []model.Progress{
		{UserID: client, TotalXP: 120},
		{UserID: stranger, TotalXP: 999},
	}

	filtered, err := authz.FilterProgress(context.Background(), store, claims, rows, nil)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, client, filtered[0].UserID)
}

func TestFilterProgress_AdminSeesAll(t *testing.T) {
	store := newFakeGrantStore()
	claims := makeClaims(uuid.New(), model.RoleAdmin)

	rows := []model.Progress{
		{UserID: uuid.New()},
		{UserID: uuid.New()},
		{UserID: uuid.New()},
	}

	filtered, err := authz.FilterProgress(context.Background(), store, claims, rows, nil)
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
}

func TestFilterTraits(t *testing.T) {
	store := newFakeGrantStore()
	coach := uuid.New()
	client := uuid.New()
	store.grant(client, coach, model.GrantScopeRead)
	claims := makeClaims(coach, model.RoleCoach)

	traits := []model.Trait{
		{UserID: client, Key: "diet", Value: "vegan"},
		{UserID: uuid.New(), Key: "diet", Value: "keto"},
	}

	filtered, err := authz.FilterTraits(context.Background(), store, claims, traits, nil)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, client, filtered[0].UserID)
}
