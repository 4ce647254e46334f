package jobs

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
)

const DefaultRepairSchedule = "@every 5m"

// IndexRepairTask re-applies index updates that were lost: every local story
// whose entry is missing or older than the story is upserted again. Entries
// of stories that are not replicated locally are left alone.
type IndexRepairTask struct {
	provider store.Provider
	index    IndexWriter
	cron     string
	timeout  time.Duration
}

func NewIndexRepairTask(schedule string, provider store.Provider, index IndexWriter) *IndexRepairTask {
	if schedule == "" {
		schedule = DefaultRepairSchedule
	}
	return &IndexRepairTask{
		provider: provider,
		index:    index,
		cron:     schedule,
		timeout:  time.Minute,
	}
}

func (c *IndexRepairTask) ID() string {
	return "index_repair"
}

func (c *IndexRepairTask) Name() string {
	return "index_repair"
}

func (c *IndexRepairTask) Schedule() string {
	return c.cron
}

func (c *IndexRepairTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.Check(ctx); err != nil {
		logrus.Errorf("index repair failed: %v", err)
	}
}

// Check compares the local index with the local stories and returns the
// number of entries it repaired.
func (c *IndexRepairTask) Check(ctx context.Context) (int, error) {
	local, err := c.provider.Local()
	if err != nil {
		return 0, err
	}

	docs, err := local.Find(ctx, store.Selector{StoriesOnly: true})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	idx := model.NewMetadataIndex()
	doc, err := local.Get(ctx, model.MetadataIndexID)
	switch {
	case err == nil:
		idx, err = model.MetadataIndexFromDocument(doc)
		if err != nil {
			return 0, err
		}
	case !store.IsNotFound(err):
		return 0, err
	}

	repaired := 0
	for _, doc := range docs {
		story, _, err := model.StoryFromDocument(doc)
		if err != nil {
			logrus.Warnf("skipping undecodable story %s: %v", doc.ID, err)
			continue
		}

		if i := idx.Find(story.ID); i >= 0 && !idx.Stories[i].UpdatedAt.Before(story.UpdatedAt.UTC()) {
			continue
		}

		logrus.Warnf("index entry of story %s is missing or stale, repairing", story.ID)
		c.index.Update(ctx, story)
		repaired++
	}

	if repaired > 0 {
		logrus.Infof("repaired %d index entries of %s", repaired, c.provider.Name())
	}

	return repaired, nil
}
