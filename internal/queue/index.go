package queue

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
)

var IndexUpdateQueue = "index:update:queue"

// TaskOp is the kind of index change a task carries.
type TaskOp string

const (
	TaskUpsert TaskOp = "upsert"
	TaskRemove TaskOp = "remove"
)

// IndexTask asks the index worker to upsert or remove one story entry.
type IndexTask struct {
	Op       TaskOp       `json:"op"`
	Database string       `json:"database"`
	StoryID  string       `json:"storyId"`
	Story    *model.Story `json:"story,omitempty"`
	QueuedAt time.Time    `json:"queuedAt"`
}

type IndexQueue interface {
	// Publish appends a task to the queue.
	Publish(ctx context.Context, task *IndexTask) error
	// Drain removes and returns up to max tasks in publish order.
	Drain(ctx context.Context, max int) ([]*IndexTask, error)
	// Len returns the number of queued tasks.
	Len(ctx context.Context) (int, error)
}

// Upsert builds the task for a written story.
func Upsert(db string, story *model.Story) *IndexTask {
	return &IndexTask{Op: TaskUpsert, Database: db, StoryID: story.ID, Story: story, QueuedAt: time.Now().UTC()}
}

// Remove builds the task for a deleted story.
func Remove(db, storyID string) *IndexTask {
	return &IndexTask{Op: TaskRemove, Database: db, StoryID: storyID, QueuedAt: time.Now().UTC()}
}
