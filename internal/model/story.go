package model

import "time"

// Story is one writing project. It is stored untyped for compatibility with
// documents written before type discriminators existed.
type Story struct {
	ID             string          `json:"_id"`
	Rev            string          `json:"_rev,omitempty"`
	StoryID        string          `json:"id"`
	Title          string          `json:"title"`
	Chapters       []Chapter       `json:"chapters"`
	Settings       StorySettings   `json:"settings"`
	CoverImage     string          `json:"coverImage,omitempty"`
	Order          *int            `json:"order,omitempty"`
	LastModifiedBy *LastModifiedBy `json:"lastModifiedBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Chapter struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ChapterNumber int       `json:"chapterNumber,omitempty"`
	Scenes        []Scene   `json:"scenes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Scene struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	SceneNumber int       `json:"sceneNumber,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StorySettings is the per-story settings blob.
type StorySettings struct {
	Language            string   `json:"language"`
	BeatTemplate        string   `json:"beatTemplate"`
	UseFullStoryContext bool     `json:"useFullStoryContext"`
	FavoriteModels      []string `json:"favoriteModels"`
}

// LastModifiedBy records the device that wrote the latest revision.
type LastModifiedBy struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Timestamp  time.Time `json:"timestamp"`
}

// DefaultStorySettings returns the settings applied to new and migrated stories.
func DefaultStorySettings() StorySettings {
	return StorySettings{
		Language:       "en",
		FavoriteModels: []string{},
	}
}

// SceneCount returns the number of scenes across all chapters.
func (s *Story) SceneCount() int {
	count := 0
	for _, chapter := range s.Chapters {
		count += len(chapter.Scenes)
	}
	return count
}

// FirstScene returns the first scene of the first chapter that has one.
func (s *Story) FirstScene() *Scene {
	for i := range s.Chapters {
		if len(s.Chapters[i].Scenes) > 0 {
			return &s.Chapters[i].Scenes[0]
		}
	}
	return nil
}

// ToDocument encodes the story as a store document.
func (s *Story) ToDocument() (*Document, error) {
	return NewDocument(s.ID, s)
}
