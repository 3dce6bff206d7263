package storage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// testEmbedding builds a 1024-dim unit vector with a single hot axis so
// cosine ranking in tests is exact.
func testEmbedding(axis int) pgvector.Vector {
	v := make([]float32, 1024)
	v[axis] = 1
	return pgvector.NewVector(v)
}

func TestCreateAndGetFood(t *testing.T) {
	ctx := context.Background()

	f, err := testDB.CreateFood(ctx, model.Food{
		Name:     "Test bar " + uuid.NewString()[:8],
		Calories: 210,
		ProteinG: 20,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, f.ID)
	assert.Equal(t, "100 g", f.ServingDesc, "serving description defaults")
	assert.Equal(t, []string{}, f.Tags)
	assert.False(t, f.HasEmbedding)

	got, err := testDB.GetFood(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Name, got.Name)

	_, err = testDB.GetFood(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearchFoodsByName(t *testing.T) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	brand := "Verdant"

	_, err := testDB.CreateFood(ctx, model.Food{
		Name: "Dragonfruit smoothie " + suffix, Calories: 180,
	})
	require.NoError(t, err)
	_, err = testDB.CreateFood(ctx, model.Food{
		Name: "Dragonfruit bowl " + suffix, Brand: &brand, Calories: 320,
	})
	require.NoError(t, err)

	results, err := testDB.SearchFoodsByName(ctx, "dragonfruit", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, r.Food.Name, "Dragonfruit")
		assert.Positive(t, r.Score)
	}

	// Brand text is searchable too.
	results, err = testDB.SearchFoodsByName(ctx, "verdant", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Dragonfruit bowl "+suffix, results[0].Food.Name)

	results, err = testDB.SearchFoodsByName(ctx, "xyzzy-no-such-food", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFoodEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()

	f, err := testDB.CreateFood(ctx, model.Food{Name: "Backfill target " + uuid.NewString()[:8]})
	require.NoError(t, err)

	// New rows start without an embedding and queue for backfill.
	missing, err := testDB.FoodsMissingEmbedding(ctx, 200)
	require.NoError(t, err)
	found := false
	for _, m := range missing {
		assert.False(t, m.HasEmbedding)
		if m.ID == f.ID {
			found = true
		}
	}
	assert.True(t, found, "new food must queue for embedding backfill")

	require.NoError(t, testDB.SetFoodEmbedding(ctx, f.ID, testEmbedding(0)))

	got, err := testDB.GetFood(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.HasEmbedding)

	missing, err = testDB.FoodsMissingEmbedding(ctx, 200)
	require.NoError(t, err)
	for _, m := range missing {
		assert.NotEqual(t, f.ID, m.ID, "embedded food must leave the backfill queue")
	}

	assert.ErrorIs(t, testDB.SetFoodEmbedding(ctx, uuid.New(), testEmbedding(0)), storage.ErrNotFound)
}

func TestSearchFoodsByEmbedding(t *testing.T) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	near, err := testDB.CreateFood(ctx, model.Food{Name: "Semantic near " + suffix})
	require.NoError(t, err)
	far, err := testDB.CreateFood(ctx, model.Food{Name: "Semantic far " + suffix})
	require.NoError(t, err)
	require.NoError(t, testDB.SetFoodEmbedding(ctx, near.ID, testEmbedding(1)))
	require.NoError(t, testDB.SetFoodEmbedding(ctx, far.ID, testEmbedding(2)))

	// Probe on axis 1: identical to near, orthogonal to far.
	results, err := testDB.SearchFoodsByEmbedding(ctx, testEmbedding(1), 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, near.ID, results[0].Food.ID)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)

	var farScore float32
	for _, r := range results {
		if r.Food.ID == far.ID {
			farScore = r.Score
		}
	}
	assert.Less(t, farScore, results[0].Score)

	// Rows without an embedding never appear.
	for _, r := range results {
		assert.True(t, r.Food.HasEmbedding)
	}
}
