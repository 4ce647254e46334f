package index

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/emrgen/storysync/internal/model"
)

// covers larger than this (inline data urls) stay out of the index
const maxThumbnailBytes = 64 * 1024

// Project derives the index entry of a story.
func Project(story *model.Story) model.StoryMetadata {
	entry := model.StoryMetadata{
		ID:           story.ID,
		Title:        story.Title,
		ChapterCount: len(story.Chapters),
		SceneCount:   story.SceneCount(),
		Order:        story.Order,
		CreatedAt:    story.CreatedAt.UTC(),
		UpdatedAt:    story.UpdatedAt.UTC(),
	}

	if story.LastModifiedBy != nil {
		by := *story.LastModifiedBy
		by.Timestamp = by.Timestamp.UTC()
		entry.LastModifiedBy = &by
	}

	if scene := story.FirstScene(); scene != nil {
		entry.PreviewText = ExtractPreview(scene.Content)
	}

	for _, chapter := range story.Chapters {
		for _, scene := range chapter.Scenes {
			entry.WordCount += CountWords(scene.Content)
		}
	}

	if cover := strings.TrimSpace(story.CoverImage); cover != "" && len(cover) <= maxThumbnailBytes {
		entry.CoverImageThumbnail = cover
	}

	return entry
}

// ProjectDocument decodes a story document and derives its entry.
func ProjectDocument(doc *model.Document) (model.StoryMetadata, error) {
	story, _, err := model.StoryFromDocument(doc)
	if err != nil {
		return model.StoryMetadata{}, err
	}
	return Project(story), nil
}

// SortEntries orders explicitly ordered stories first, the rest by most
// recent update.
func SortEntries(entries []model.StoryMetadata) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Order != nil && b.Order != nil:
			if *a.Order != *b.Order {
				return *a.Order < *b.Order
			}
		case a.Order != nil:
			return true
		case b.Order != nil:
			return false
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

func sameEntries(a, b []model.StoryMetadata) bool {
	if len(a) != len(b) {
		return false
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}
