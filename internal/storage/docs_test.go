package storage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

func TestProjectDocUpsert(t *testing.T) {
	ctx := context.Background()
	key := "doc-" + uuid.NewString()[:8]

	d, err := testDB.UpsertProjectDoc(ctx, model.ProjectDoc{
		DocKey:      key,
		DocName:     "Rules Authoring Guide",
		DocCategory: "personalization",
		Content:     "# Rules\nPriority decides.",
	})
	require.NoError(t, err)
	assert.Nil(t, d.Summary)
	firstStamp := d.LastUpdated

	summary := "How to write rules."
	d, err = testDB.UpsertProjectDoc(ctx, model.ProjectDoc{
		DocKey:      key,
		DocName:     "Rules Authoring Guide",
		DocCategory: "personalization",
		Content:     "# Rules\nPriority decides. Lower wins.",
		Summary:     &summary,
	})
	require.NoError(t, err)
	require.NotNil(t, d.Summary)
	assert.False(t, d.LastUpdated.Before(firstStamp))

	got, err := testDB.GetProjectDoc(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, got.Content, "Lower wins")

	_, err = testDB.GetProjectDoc(ctx, "no-such-doc")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	docs, err := testDB.ListProjectDocs(ctx)
	require.NoError(t, err)
	found := false
	for _, listed := range docs {
		if listed.DocKey == key {
			found = true
			assert.NotEmpty(t, listed.Content, "list includes content")
		}
	}
	assert.True(t, found)
}

func TestSeededPersonas(t *testing.T) {
	ctx := context.Background()

	personas, err := testDB.ListPersonas(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, personas, "migrations seed the built-in personas")

	defaults := 0
	for _, p := range personas {
		assert.NotEmpty(t, p.StyleRules)
		if p.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults, "exactly one default persona")

	def, err := testDB.DefaultPersona(ctx)
	require.NoError(t, err)
	assert.True(t, def.IsDefault)

	got, err := testDB.GetPersona(ctx, def.Key)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	_, err = testDB.GetPersona(ctx, "no-such-persona")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
