package model

import (
	"fmt"

	"github.com/google/uuid"
)

// StoryFromDocument decodes a story and brings it to the current schema:
// default settings, numbered chapters and scenes, and the legacy single
// content blob moved into one chapter with one scene. The second return
// value reports whether anything was migrated.
func StoryFromDocument(doc *Document) (*Story, bool, error) {
	story := &Story{}
	if err := doc.Decode(story); err != nil {
		return nil, false, fmt.Errorf("decode story %s: %w", doc.ID, err)
	}

	migrated := false
	if story.ID == "" {
		story.ID = doc.ID
	}
	if story.StoryID == "" {
		story.StoryID = story.ID
		migrated = true
	}

	if len(story.Chapters) == 0 {
		if content := doc.String("content"); content != "" {
			story.Chapters = []Chapter{legacyChapter(content, story)}
			migrated = true
		}
	}
	if story.Chapters == nil {
		story.Chapters = make([]Chapter, 0)
	}

	if story.Settings.Language == "" {
		defaults := DefaultStorySettings()
		story.Settings.Language = defaults.Language
		migrated = true
	}
	if story.Settings.FavoriteModels == nil {
		story.Settings.FavoriteModels = make([]string, 0)
	}

	if story.CreatedAt.IsZero() && !story.UpdatedAt.IsZero() {
		story.CreatedAt = story.UpdatedAt
		migrated = true
	}

	for i := range story.Chapters {
		chapter := &story.Chapters[i]
		if chapter.ID == "" {
			chapter.ID = uuid.NewString()
			migrated = true
		}
		if chapter.ChapterNumber == 0 {
			chapter.ChapterNumber = i + 1
			migrated = true
		}
		if chapter.Scenes == nil {
			chapter.Scenes = make([]Scene, 0)
		}
		for j := range chapter.Scenes {
			scene := &chapter.Scenes[j]
			if scene.ID == "" {
				scene.ID = uuid.NewString()
				migrated = true
			}
			if scene.SceneNumber == 0 {
				scene.SceneNumber = j + 1
				migrated = true
			}
		}
	}

	return story, migrated, nil
}

func legacyChapter(content string, story *Story) Chapter {
	return Chapter{
		ID:            uuid.NewString(),
		Title:         "Chapter 1",
		ChapterNumber: 1,
		CreatedAt:     story.CreatedAt,
		UpdatedAt:     story.UpdatedAt,
		Scenes: []Scene{{
			ID:          uuid.NewString(),
			Title:       "Scene 1",
			Content:     content,
			SceneNumber: 1,
			CreatedAt:   story.CreatedAt,
			UpdatedAt:   story.UpdatedAt,
		}},
	}
}
