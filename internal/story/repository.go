package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/queue"
	"github.com/emrgen/storysync/internal/store"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxTitleLength = 500

var (
	// ErrNotStory is returned when the id names a document that is not a story.
	ErrNotStory = errors.New("document is not a story")
)

// side documents keyed by story id
var sideDocumentPrefixes = []string{"scene-chat_%s_", "research_%s_", "beat-history_%s_"}

// Device identifies this installation in lastModifiedBy stamps.
type Device struct {
	ID   string
	Name string
}

// Lister lists the stories of the current database from the metadata index.
type Lister interface {
	Get(ctx context.Context) (*model.MetadataIndex, error)
}

// Repository reads and writes story documents in the local database. Every
// write publishes an index task.
type Repository struct {
	provider store.Provider
	queue    queue.IndexQueue
	lister   Lister
	device   Device
	now      func() time.Time
}

func NewRepository(provider store.Provider, q queue.IndexQueue, lister Lister, device Device) *Repository {
	return &Repository{
		provider: provider,
		queue:    q,
		lister:   lister,
		device:   device,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create writes a new story with one empty chapter holding one empty scene.
func (r *Repository) Create(ctx context.Context, title string) (*model.Story, error) {
	now := r.now()
	story := &model.Story{
		ID:       uuid.NewString(),
		Title:    strings.TrimSpace(title),
		Settings: model.DefaultStorySettings(),
		Chapters: []model.Chapter{{
			ID:            uuid.NewString(),
			Title:         "Chapter 1",
			ChapterNumber: 1,
			CreatedAt:     now,
			UpdatedAt:     now,
			Scenes: []model.Scene{{
				ID:          uuid.NewString(),
				Title:       "Scene 1",
				SceneNumber: 1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}},
		}},
		CreatedAt: now,
	}
	story.StoryID = story.ID

	if err := r.write(ctx, story); err != nil {
		return nil, err
	}

	logrus.Infof("created story %s", story.ID)
	return story, nil
}

// Get reads a story and brings it to the current schema.
func (r *Repository) Get(ctx context.Context, id string) (*model.Story, error) {
	local, err := r.provider.Local()
	if err != nil {
		return nil, err
	}

	doc, err := local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.IsStory(doc) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotStory)
	}

	story, migrated, err := model.StoryFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if migrated {
		logrus.Debugf("story %s migrated on read", id)
	}
	story.Rev = doc.Rev

	return story, nil
}

// List returns the index entries of every story.
func (r *Repository) List(ctx context.Context) ([]model.StoryMetadata, error) {
	idx, err := r.lister.Get(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Stories, nil
}

// Update writes story at its current revision. Conflicts are returned to the
// caller.
func (r *Repository) Update(ctx context.Context, story *model.Story) error {
	return r.write(ctx, story)
}

// Reorder gives the listed stories an explicit order by position.
func (r *Repository) Reorder(ctx context.Context, ids []string) error {
	for i, id := range ids {
		story, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if story.Order != nil && *story.Order == i {
			continue
		}
		order := i
		story.Order = &order
		if err := r.write(ctx, story); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a story with its codex entries and side documents.
func (r *Repository) Delete(ctx context.Context, id string) error {
	local, err := r.provider.Local()
	if err != nil {
		return err
	}

	doc, err := local.Get(ctx, id)
	if err != nil {
		return err
	}
	if !model.IsStory(doc) {
		return fmt.Errorf("%s: %w", id, ErrNotStory)
	}

	related, err := r.related(ctx, local, id)
	if err != nil {
		return err
	}

	for _, d := range related {
		if err := local.Remove(ctx, d.ID, d.Rev); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("remove %s: %w", d.ID, err)
		}
	}

	if err := local.Remove(ctx, doc.ID, doc.Rev); err != nil {
		return err
	}

	logrus.Infof("deleted story %s with %d related documents", id, len(related))
	r.publish(ctx, queue.Remove(r.provider.Name(), id))

	return nil
}

func (r *Repository) related(ctx context.Context, local store.Store, id string) ([]*model.Document, error) {
	docs, err := local.Find(ctx, store.Selector{Type: model.TypeCodex, StoryID: id})
	if err != nil {
		return nil, err
	}

	all, err := local.AllDocs(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range all {
		for _, prefix := range sideDocumentPrefixes {
			if strings.HasPrefix(d.ID, fmt.Sprintf(prefix, id)) {
				docs = append(docs, d)
				break
			}
		}
	}

	return docs, nil
}

func (r *Repository) write(ctx context.Context, story *model.Story) error {
	if err := validateStory(story); err != nil {
		return err
	}

	local, err := r.provider.Local()
	if err != nil {
		return err
	}

	now := r.now()
	story.UpdatedAt = now
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.LastModifiedBy = &model.LastModifiedBy{
		DeviceID:   r.device.ID,
		DeviceName: r.device.Name,
		Timestamp:  now,
	}

	doc, err := story.ToDocument()
	if err != nil {
		return err
	}

	rev, err := local.Put(ctx, doc)
	if err != nil {
		return err
	}
	story.Rev = rev

	r.publish(ctx, queue.Upsert(r.provider.Name(), story))

	return nil
}

func (r *Repository) publish(ctx context.Context, task *queue.IndexTask) {
	if r.queue == nil {
		return
	}
	if err := r.queue.Publish(ctx, task); err != nil {
		logrus.Errorf("error queueing index %s of %s: %v", task.Op, task.StoryID, err)
	}
}

func validateStory(story *model.Story) error {
	return validation.ValidateStruct(story,
		validation.Field(&story.ID, validation.Required),
		validation.Field(&story.Title, validation.Length(0, maxTitleLength)),
		validation.Field(&story.Chapters, validation.Each(validation.By(validateChapter))),
	)
}

func validateChapter(value interface{}) error {
	chapter, ok := value.(model.Chapter)
	if !ok {
		return fmt.Errorf("unexpected chapter type %T", value)
	}
	return validation.ValidateStruct(&chapter,
		validation.Field(&chapter.ID, validation.Required),
		validation.Field(&chapter.Scenes, validation.Each(validation.By(validateScene))),
	)
}

func validateScene(value interface{}) error {
	scene, ok := value.(model.Scene)
	if !ok {
		return fmt.Errorf("unexpected scene type %T", value)
	}
	return validation.ValidateStruct(&scene,
		validation.Field(&scene.ID, validation.Required),
	)
}
