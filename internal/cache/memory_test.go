package cache

import (
	"context"
	"testing"

	"github.com/emrgen/storysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryIndexCache()

	got, err := c.GetIndex(ctx, "storysync-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	index := model.NewMetadataIndex()
	index.Stories = append(index.Stories, model.StoryMetadata{ID: "s1", Title: "One"})
	require.NoError(t, c.SetIndex(ctx, "storysync-a", index))

	// later mutations of the caller's copy do not leak into the cache
	index.Stories[0].Title = "changed"

	got, err = c.GetIndex(ctx, "storysync-a")
	require.NoError(t, err)
	require.Len(t, got.Stories, 1)
	assert.Equal(t, "One", got.Stories[0].Title)

	other, err := c.GetIndex(ctx, "storysync-b")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, c.DeleteIndex(ctx, "storysync-a"))
	got, err = c.GetIndex(ctx, "storysync-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
