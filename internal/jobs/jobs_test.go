package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/index"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/queue"
	"github.com/emrgen/storysync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	updates []string
	removes []string
}

func (r *recordingWriter) Update(ctx context.Context, story *model.Story) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, story.ID)
}

func (r *recordingWriter) Remove(ctx context.Context, storyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, storyID)
}

func TestIndexSyncTask_Flush(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	w := &recordingWriter{}
	task := NewIndexSyncTask(q, w, func() string { return "storysync-a" })

	require.NoError(t, q.Publish(ctx, queue.Upsert("storysync-a", &model.Story{ID: "A"})))
	require.NoError(t, q.Publish(ctx, queue.Upsert("storysync-b", &model.Story{ID: "other-user"})))
	require.NoError(t, q.Publish(ctx, queue.Remove("storysync-a", "B")))
	require.NoError(t, q.Publish(ctx, &queue.IndexTask{Op: queue.TaskUpsert, Database: "storysync-a", StoryID: "C"}))

	applied, err := task.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, []string{"A"}, w.updates)
	assert.Equal(t, []string{"B"}, w.removes)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func putStory(t *testing.T, s store.Store, id string, updated time.Time) *model.Story {
	t.Helper()
	story := &model.Story{
		ID:        id,
		StoryID:   id,
		Title:     "Story " + id,
		Chapters:  []model.Chapter{},
		Settings:  model.DefaultStorySettings(),
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	doc, err := story.ToDocument()
	require.NoError(t, err)
	_, err = s.Put(context.Background(), doc)
	require.NoError(t, err)
	return story
}

func TestIndexRepairTask_Check(t *testing.T) {
	ctx := context.Background()
	local := store.NewMemoryStore("storysync-a")
	provider := store.NewStaticProvider(local, nil)
	manager := index.NewManager(provider, nil, nil, nil, index.Options{})

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a := putStory(t, local, "A", base)
	manager.Update(ctx, a)

	// an entry of a story that only lives on the remote
	idx, err := manager.Get(ctx)
	require.NoError(t, err)
	idx.Stories = append(idx.Stories, model.StoryMetadata{ID: "remote-only", Title: "Elsewhere"})
	doc, err := idx.ToDocument()
	require.NoError(t, err)
	_, err = local.Put(ctx, doc)
	require.NoError(t, err)

	// lost updates: B never indexed, A edited without index update
	putStory(t, local, "B", base)
	current, err := local.Get(ctx, "A")
	require.NoError(t, err)
	current.Fields["updatedAt"] = base.Add(time.Hour).Format(time.RFC3339)
	current.Fields["title"] = "Edited"
	_, err = local.Put(ctx, current)
	require.NoError(t, err)

	task := NewIndexRepairTask("", provider, manager)
	assert.Equal(t, DefaultRepairSchedule, task.Schedule())

	repaired, err := task.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	doc, err = local.Get(ctx, model.MetadataIndexID)
	require.NoError(t, err)
	idx, err = model.MetadataIndexFromDocument(doc)
	require.NoError(t, err)
	require.Len(t, idx.Stories, 3)
	assert.Equal(t, "Edited", idx.Stories[idx.Find("A")].Title)
	assert.GreaterOrEqual(t, idx.Find("B"), 0)
	assert.GreaterOrEqual(t, idx.Find("remote-only"), 0)

	repaired, err = task.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

type countingJob struct {
	mu   sync.Mutex
	runs int
}

func (c *countingJob) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
}

func (c *countingJob) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestTaskExecutor_RunsJobs(t *testing.T) {
	job := &countingJob{}
	executor := NewTaskExecutor([]Job{job}, nil)
	require.NoError(t, executor.Run())
	defer executor.Stop()

	require.Eventually(t, func() bool { return job.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}

type badSchedule struct{}

func (badSchedule) Schedule() string { return "not a schedule" }
func (badSchedule) Run()             {}

func TestTaskExecutor_RejectsBadSchedule(t *testing.T) {
	executor := NewTaskExecutor(nil, []CronJob{badSchedule{}})
	assert.Error(t, executor.Run())
}
