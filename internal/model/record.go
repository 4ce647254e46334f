package model

import "time"

// DocumentRecord is the row layout of the local document store. Body holds
// the document fields without the reserved ones, encoded by the store's
// compressor. Seq orders the changes feed: each write moves the row to the
// next sequence so the feed carries one entry per document. Revisions holds
// the JSON encoded revision ancestry of Rev.
type DocumentRecord struct {
	ID          string `gorm:"primaryKey;not null"`
	Rev         string `gorm:"not null"`
	Seq         int64  `gorm:"not null;uniqueIndex"`
	Type        string
	StoryID     string
	IsStory     bool `gorm:"not null;default:false"`
	Deleted     bool `gorm:"not null;default:false"`
	Revisions   string
	Body        []byte
	Compression string
	UpdatedAt   time.Time
}
