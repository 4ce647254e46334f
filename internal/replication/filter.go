package replication

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/storysync/internal/model"
)

// userWideTypes replicate regardless of the open story.
var userWideTypes = mapset.NewSet[string](
	model.TypeCustomBackground,
	model.TypeVideo,
	model.TypeImageVideoAssociation,
)

// SessionConfig is the state the live filter depends on. A running session
// never observes changes to it; the controller restarts the session instead.
type SessionConfig struct {
	// ActiveStoryID is the story open in the editor, empty on the list view.
	ActiveStoryID string
	// Bootstrap widens the filter to everything except snapshots.
	Bootstrap bool
}

// Accept decides whether doc replicates under cfg. The same predicate is
// applied in both directions.
func Accept(doc *model.Document, cfg SessionConfig) bool {
	if doc == nil {
		return false
	}

	// tombstones carry no fields to classify; deletions always propagate
	if doc.Deleted {
		return true
	}

	class := model.ClassifyDocument(doc)
	switch {
	case class.Is(model.TypeStorySnapshot):
		return false
	case class.Kind == model.KindIndex:
		return true
	case class.Kind == model.KindTyped && userWideTypes.Contains(class.Type):
		return true
	case cfg.Bootstrap:
		return true
	case cfg.ActiveStoryID == "":
		return false
	case class.Untyped():
		return doc.ID == cfg.ActiveStoryID
	case class.Is(model.TypeCodex):
		return doc.StoryID() == cfg.ActiveStoryID
	default:
		return false
	}
}

// Filter binds cfg into a per-document predicate.
func (cfg SessionConfig) Filter() func(*model.Document) bool {
	return func(doc *model.Document) bool {
		return Accept(doc, cfg)
	}
}
