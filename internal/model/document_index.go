package model

import "time"

// StoryMetadata is the lossy projection of a Story used for list rendering.
type StoryMetadata struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	PreviewText         string          `json:"previewText"`
	ChapterCount        int             `json:"chapterCount"`
	SceneCount          int             `json:"sceneCount"`
	WordCount           int             `json:"wordCount"`
	CoverImageThumbnail string          `json:"coverImageThumbnail,omitempty"`
	Order               *int            `json:"order,omitempty"`
	LastModifiedBy      *LastModifiedBy `json:"lastModifiedBy,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// MetadataIndex is the single aggregate document summarizing every story.
// Entries are derived from story documents and never edited by hand.
type MetadataIndex struct {
	ID          string          `json:"_id"`
	Rev         string          `json:"_rev,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Stories     []StoryMetadata `json:"stories"`
}

// NewMetadataIndex returns an empty index with the fixed id.
func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{
		ID:      MetadataIndexID,
		Stories: make([]StoryMetadata, 0),
	}
}

// MetadataIndexFromDocument decodes the index document.
func MetadataIndexFromDocument(doc *Document) (*MetadataIndex, error) {
	idx := NewMetadataIndex()
	if err := doc.Decode(idx); err != nil {
		return nil, err
	}
	if idx.Stories == nil {
		idx.Stories = make([]StoryMetadata, 0)
	}
	idx.ID = MetadataIndexID
	return idx, nil
}

// ToDocument encodes the index as a store document.
func (m *MetadataIndex) ToDocument() (*Document, error) {
	return NewDocument(MetadataIndexID, m)
}

// Find returns the position of the entry for id, or -1.
func (m *MetadataIndex) Find(id string) int {
	for i := range m.Stories {
		if m.Stories[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone deep-copies the entry slice so callers can mutate freely.
func (m *MetadataIndex) Clone() *MetadataIndex {
	clone := *m
	clone.Stories = make([]StoryMetadata, len(m.Stories))
	copy(clone.Stories, m.Stories)
	return &clone
}
