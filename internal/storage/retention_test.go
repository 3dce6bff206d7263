package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
)

func TestDeleteEventsBefore(t *testing.T) {
	ctx := context.Background()
	u := createTestUser(t)

	// Old timestamps well away from anything other tests insert.
	old := time.Date(2000, 1, 10, 0, 0, 0, 0, time.UTC)
	batch := make([]model.ClientEvent, 7)
	for i := range batch {
		batch[i] = model.ClientEvent{
			UserID:     u.ID,
			EventType:  "app.opened",
			OccurredAt: old.Add(time.Duration(i) * time.Hour),
		}
	}
	_, err := testDB.InsertEvents(ctx, batch)
	require.NoError(t, err)
	// One event after the cutoff must survive.
	keep := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = testDB.InsertEvents(ctx, []model.ClientEvent{
		{UserID: u.ID, EventType: "app.opened", OccurredAt: keep},
	})
	require.NoError(t, err)

	cutoff := time.Date(2000, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := testDB.CountEventsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(7))

	// Batch size 3 forces multiple delete rounds.
	deleted, err := testDB.DeleteEventsBefore(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(7))

	n, err = testDB.CountEventsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)

	survivors, err := testDB.ListEvents(ctx, u.ID, keep.Add(-time.Hour), keep.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, survivors, 1)
}

func TestDropEventChunks(t *testing.T) {
	ctx := context.Background()

	enabled, err := testDB.TimescaleEnabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled, "test container runs timescaledb")

	u := createTestUser(t)
	// A chunk holding only 1999 data so a 2000-01-01 cutoff can drop it whole.
	ancient := time.Date(1999, 6, 15, 0, 0, 0, 0, time.UTC)
	_, err = testDB.InsertEvents(ctx, []model.ClientEvent{
		{UserID: u.ID, EventType: "app.opened", OccurredAt: ancient},
		{UserID: u.ID, EventType: "app.opened", OccurredAt: ancient.Add(time.Hour)},
	})
	require.NoError(t, err)

	cutoff := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	dropped, err := testDB.DropEventChunks(ctx, cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dropped, int64(1))

	n, err := testDB.CountEventsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}
