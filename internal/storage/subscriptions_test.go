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

func TestApplySubscriptionEvent(t *testing.T) {
	ctx := context.Background()
	u := createTestUser(t)

	_, err := testDB.GetSubscription(ctx, u.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "no webhook yet means free tier")

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	ev := model.SubscriptionEvent{
		EventID:   "evt-" + uuid.NewString(),
		UserID:    u.ID,
		Tier:      model.TierPremium,
		Status:    "active",
		ExpiresAt: &expires,
	}
	applied, err := testDB.ApplySubscriptionEvent(ctx, ev, []byte(`{"store":"app_store"}`))
	require.NoError(t, err)
	assert.True(t, applied)

	sub, err := testDB.GetSubscription(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, sub.Tier)
	assert.Equal(t, "active", sub.Status)
	require.NotNil(t, sub.ExpiresAt)

	// The tier lands in the fact base so rules can gate on it.
	traits, err := testDB.TraitMap(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, traits["subscription_tier"])

	// Redelivery of the same event id changes nothing.
	ev.Tier = model.TierFree
	applied, err = testDB.ApplySubscriptionEvent(ctx, ev, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	sub, err = testDB.GetSubscription(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, sub.Tier)

	// A later event with a fresh id downgrades, and the trait follows.
	applied, err = testDB.ApplySubscriptionEvent(ctx, model.SubscriptionEvent{
		EventID: "evt-" + uuid.NewString(),
		UserID:  u.ID,
		Tier:    model.TierFree,
		Status:  "expired",
	}, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	sub, err = testDB.GetSubscription(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, sub.Tier)
	assert.Nil(t, sub.ExpiresAt)

	traits, err = testDB.TraitMap(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, traits["subscription_tier"])
}
