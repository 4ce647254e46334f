package replication

import "github.com/emrgen/storysync/internal/model"

// EventType enumerates replication lifecycle events.
type EventType int

const (
	// EventChange reports a batch of documents written to the target.
	// It never means the replication caught up.
	EventChange EventType = iota
	// EventActive reports that the replication resumed transferring.
	EventActive
	// EventPaused reports that every direction caught up and is idle.
	EventPaused
	// EventError reports a failed request; retrying replications continue.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventChange:
		return "change"
	case EventActive:
		return "active"
	case EventPaused:
		return "paused"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a running replication.
type Event struct {
	Type      EventType
	Direction Direction
	// DocsWritten counts documents that changed the target in this batch.
	DocsWritten int
	// Docs is the batch that passed the filter.
	Docs []*model.Document
	// Pending is the number of changes left at the source, -1 when unknown.
	Pending int
	Err     error
}

// EventHandler receives events. It runs on the replication goroutine.
type EventHandler func(Event)
