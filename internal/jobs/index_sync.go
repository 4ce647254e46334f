package jobs

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/queue"
	"github.com/sirupsen/logrus"
)

const indexSyncBatch = 100

// IndexWriter applies index tasks.
type IndexWriter interface {
	Update(ctx context.Context, story *model.Story)
	Remove(ctx context.Context, storyID string)
}

// IndexSyncTask drains the index queue in publish order.
type IndexSyncTask struct {
	queue    queue.IndexQueue
	index    IndexWriter
	database func() string
	timeout  time.Duration
}

// NewIndexSyncTask creates the worker. database reports the currently open
// database; tasks queued for another one are dropped.
func NewIndexSyncTask(q queue.IndexQueue, index IndexWriter, database func() string) *IndexSyncTask {
	return &IndexSyncTask{
		queue:    q,
		index:    index,
		database: database,
		timeout:  30 * time.Second,
	}
}

func (c *IndexSyncTask) ID() string {
	return "index_sync"
}

func (c *IndexSyncTask) Name() string {
	return "index_sync"
}

func (c *IndexSyncTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.Flush(ctx); err != nil {
		logrus.Errorf("error draining index queue: %v", err)
	}
}

// Flush applies every queued task and returns how many were applied.
func (c *IndexSyncTask) Flush(ctx context.Context) (int, error) {
	applied := 0
	for {
		tasks, err := c.queue.Drain(ctx, indexSyncBatch)
		if err != nil {
			return applied, err
		}
		if len(tasks) == 0 {
			return applied, nil
		}

		current := c.database()
		for _, task := range tasks {
			if task.Database != current {
				logrus.Debugf("dropping index task of %s for closed database %s", task.StoryID, task.Database)
				continue
			}

			switch task.Op {
			case queue.TaskUpsert:
				if task.Story == nil {
					logrus.Warnf("index upsert of %s without story", task.StoryID)
					continue
				}
				c.index.Update(ctx, task.Story)
			case queue.TaskRemove:
				c.index.Remove(ctx, task.StoryID)
			default:
				logrus.Warnf("unknown index task %q", task.Op)
				continue
			}
			applied++
		}
	}
}
