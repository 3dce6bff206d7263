package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

func TestCoachGrantLifecycle(t *testing.T) {
	ctx := context.Background()
	client := createTestUser(t)
	coach := createTestUser(t)

	g, err := testDB.CreateCoachGrant(ctx, client.ID, coach.ID, model.GrantScopeRead, nil, client.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantScopeRead, g.Scope)
	assert.Nil(t, g.RevokedAt)

	// Only one live grant per pair; widening scope requires revoke first.
	_, err = testDB.CreateCoachGrant(ctx, client.ID, coach.ID, model.GrantScopeWriteTraits, nil, client.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	active, err := testDB.ActiveGrant(ctx, client.ID, coach.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, active.ID)

	// The reverse direction has no access.
	_, err = testDB.ActiveGrant(ctx, coach.ID, client.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Another client cannot revoke it.
	other := createTestUser(t)
	assert.ErrorIs(t, testDB.RevokeCoachGrant(ctx, other.ID, g.ID), storage.ErrNotFound)

	require.NoError(t, testDB.RevokeCoachGrant(ctx, client.ID, g.ID))
	assert.ErrorIs(t, testDB.RevokeCoachGrant(ctx, client.ID, g.ID), storage.ErrNotFound)
	_, err = testDB.ActiveGrant(ctx, client.ID, coach.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Revoked pair can be granted again, at a new scope.
	g2, err := testDB.CreateCoachGrant(ctx, client.ID, coach.ID, model.GrantScopeWriteTraits, nil, client.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantScopeWriteTraits, g2.Scope)
}

func TestCoachGrantExpiry(t *testing.T) {
	ctx := context.Background()
	client := createTestUser(t)
	coach := createTestUser(t)

	past := time.Now().Add(-time.Hour).UTC()
	g, err := testDB.CreateCoachGrant(ctx, client.ID, coach.ID, model.GrantScopeRead, &past, client.ID)
	require.NoError(t, err)

	// Expired grants confer no access but stay visible to the client.
	_, err = testDB.ActiveGrant(ctx, client.ID, coach.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mine, err := testDB.ListGrantsByClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, g.ID, mine[0].ID)

	// The coach roster hides them.
	roster, err := testDB.ListGrantsByCoach(ctx, coach.ID)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestListGrantsByCoach(t *testing.T) {
	ctx := context.Background()
	coach := createTestUser(t)

	var clients []uuid.UUID
	for i := 0; i < 3; i++ {
		c := createTestUser(t)
		clients = append(clients, c.ID)
		_, err := testDB.CreateCoachGrant(ctx, c.ID, coach.ID, model.GrantScopeRead, nil, c.ID)
		require.NoError(t, err)
	}

	roster, err := testDB.ListGrantsByCoach(ctx, coach.ID)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	seen := map[uuid.UUID]bool{}
	for _, g := range roster {
		seen[g.ClientID] = true
	}
	for _, id := range clients {
		assert.True(t, seen[id])
	}
}
