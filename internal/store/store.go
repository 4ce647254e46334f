package store

import (
	"context"

	"github.com/emrgen/storysync/internal/model"
)

// Store is a document database: the local embedded one or its remote peer.
type Store interface {
	DocumentStore
	ReplicationStore
	// Name returns the database name.
	Name() string
	// Info returns database statistics; on a remote it doubles as liveness check.
	Info(ctx context.Context) (*Info, error)
	// Close releases the handle. Calls after Close fail with ErrClosed.
	Close() error
}

type DocumentStore interface {
	// Get retrieves a live document by id.
	Get(ctx context.Context, id string) (*model.Document, error)
	// Put writes a document; doc.Rev must be the current revision. Returns the new revision.
	Put(ctx context.Context, doc *model.Document) (string, error)
	// Remove deletes a document at the given revision, leaving a tombstone.
	Remove(ctx context.Context, id, rev string) error
	// Find retrieves live documents matching the selector.
	Find(ctx context.Context, selector Selector) ([]*model.Document, error)
	// AllDocs retrieves every live document.
	AllDocs(ctx context.Context) ([]*model.Document, error)
}

type ReplicationStore interface {
	// BulkDocs writes many documents at once.
	BulkDocs(ctx context.Context, docs []*model.Document, opts BulkOptions) ([]BulkResult, error)
	// Changes returns the changes after since, one entry per document.
	Changes(ctx context.Context, req ChangesRequest) (*ChangesResult, error)
}

// IndexCreator is implemented by stores that build secondary indexes lazily.
type IndexCreator interface {
	CreateIndexes(ctx context.Context) error
}

// Info describes a database.
type Info struct {
	Name      string `json:"db_name"`
	DocCount  int64  `json:"doc_count"`
	UpdateSeq string `json:"-"`
}

// Selector narrows Find. Empty fields match everything.
type Selector struct {
	Type        string
	StoryID     string
	StoriesOnly bool
	Limit       int
}

// Match evaluates the selector against a document.
func (s Selector) Match(doc *model.Document) bool {
	if doc == nil || doc.Deleted {
		return false
	}
	if s.StoriesOnly && !model.IsStory(doc) {
		return false
	}
	if s.Type != "" && doc.Type() != s.Type {
		return false
	}
	if s.StoryID != "" && doc.StoryID() != s.StoryID {
		return false
	}
	return true
}

// BulkOptions controls BulkDocs.
type BulkOptions struct {
	// Replicate writes documents with their given revisions instead of
	// generating new ones. The revision winner is kept, identical revisions
	// are skipped.
	Replicate bool
}

// BulkResult reports the outcome for one document of a bulk write.
type BulkResult struct {
	ID      string
	Rev     string
	Written bool
	Err     error
}

// ChangesRequest asks for changes after Since.
type ChangesRequest struct {
	Since string
	Limit int
}

// Change is one entry of the changes feed.
type Change struct {
	Seq     string
	ID      string
	Rev     string
	Deleted bool
	Doc     *model.Document
}

// ChangesResult is one page of the changes feed.
type ChangesResult struct {
	Results []Change
	LastSeq string
	// Pending is the number of changes left after this page, -1 when unknown.
	Pending int
}

// Written counts the results that changed the target.
func Written(results []BulkResult) int {
	n := 0
	for _, r := range results {
		if r.Written {
			n++
		}
	}
	return n
}
