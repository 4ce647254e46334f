package index

import (
	"strings"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func TestProject(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)

	story := &model.Story{
		ID:    "story-1",
		Title: "The Lighthouse",
		Chapters: []model.Chapter{
			{ID: "c1", Scenes: []model.Scene{
				{ID: "s1", Content: "<p>Waves broke.</p><p>Gulls cried.</p>"},
				{ID: "s2", Content: "<p>Night came</p>"},
			}},
			{ID: "c2", Scenes: []model.Scene{}},
		},
		CoverImage:     "data:image/png;base64,AAAA",
		Order:          intPtr(2),
		LastModifiedBy: &model.LastModifiedBy{DeviceID: "d1", DeviceName: "Laptop", Timestamp: updated},
		CreatedAt:      updated.Add(-time.Hour),
		UpdatedAt:      updated,
	}

	entry := Project(story)
	assert.Equal(t, "story-1", entry.ID)
	assert.Equal(t, "The Lighthouse", entry.Title)
	assert.Equal(t, 2, entry.ChapterCount)
	assert.Equal(t, 2, entry.SceneCount)
	assert.Equal(t, 6, entry.WordCount)
	assert.Equal(t, "Waves broke.\nGulls cried.", entry.PreviewText)
	assert.Equal(t, "data:image/png;base64,AAAA", entry.CoverImageThumbnail)
	assert.Equal(t, 2, *entry.Order)
	assert.Equal(t, time.UTC, entry.UpdatedAt.Location())
	require.NotNil(t, entry.LastModifiedBy)
	assert.Equal(t, "Laptop", entry.LastModifiedBy.DeviceName)
	assert.True(t, entry.LastModifiedBy.Timestamp.Equal(updated))

	// the entry does not alias the story
	story.LastModifiedBy.DeviceName = "Phone"
	assert.Equal(t, "Laptop", entry.LastModifiedBy.DeviceName)

	story.CoverImage = "data:image/png;base64," + strings.Repeat("A", maxThumbnailBytes)
	assert.Empty(t, Project(story).CoverImageThumbnail)
}

func TestProjectDocument_Legacy(t *testing.T) {
	doc := &model.Document{
		ID: "legacy",
		Fields: map[string]any{
			"title":    "Old draft",
			"content":  "<p>just one blob</p>",
			"chapters": []any{},
		},
	}

	entry, err := ProjectDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "legacy", entry.ID)
	assert.Equal(t, 1, entry.ChapterCount)
	assert.Equal(t, 1, entry.SceneCount)
	assert.Equal(t, 3, entry.WordCount)
	assert.Equal(t, "just one blob", entry.PreviewText)
}

func TestSortEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []model.StoryMetadata{
		{ID: "old", UpdatedAt: base},
		{ID: "second", Order: intPtr(1), UpdatedAt: base},
		{ID: "new", UpdatedAt: base.Add(time.Hour)},
		{ID: "first", Order: intPtr(0), UpdatedAt: base},
		{ID: "tie-b", UpdatedAt: base},
	}

	SortEntries(entries)

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"first", "second", "new", "old", "tie-b"}, ids)
}
