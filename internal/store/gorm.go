package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/emrgen/storysync/internal/compress"
	"github.com/emrgen/storysync/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var _ Store = (*GormStore)(nil)
var _ IndexCreator = (*GormStore)(nil)

// NewGormStore wraps an open gorm connection as a local document database.
// The caller is expected to have run Migrate.
func NewGormStore(name string, db *gorm.DB, compressor compress.Compress, compression string) *GormStore {
	return &GormStore{
		name:        name,
		db:          db,
		compress:    compressor,
		compression: compression,
	}
}

// GormStore is the local embedded document database.
type GormStore struct {
	name        string
	db          *gorm.DB
	compress    compress.Compress
	compression string
	// sqlite allows one writer; sequence allocation relies on it
	mu     sync.Mutex
	closed bool
}

func (g *GormStore) Name() string {
	return g.name
}

// Migrate creates the document table.
func (g *GormStore) Migrate() error {
	return g.db.AutoMigrate(&model.DocumentRecord{})
}

// CreateIndexes builds the secondary indexes used by non-story queries.
func (g *GormStore) CreateIndexes(ctx context.Context) error {
	table, err := g.table()
	if err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_type ON %s (type)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_story_id ON %s (story_id)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_is_story ON %s (is_story)", table, table),
	}

	for _, stmt := range statements {
		if g.isClosed() {
			return NewError(KindClosed, "create indexes", ErrClosed)
		}
		if err := g.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			if g.isClosed() {
				return NewError(KindClosed, "create indexes", err)
			}
			return err
		}
	}

	return nil
}

func (g *GormStore) table() (string, error) {
	stmt := &gorm.Statement{DB: g.db}
	if err := stmt.Parse(&model.DocumentRecord{}); err != nil {
		return "", err
	}
	return stmt.Schema.Table, nil
}

func (g *GormStore) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *GormStore) Info(ctx context.Context) (*Info, error) {
	if g.isClosed() {
		return nil, NewError(KindClosed, "info", ErrClosed)
	}

	var count int64
	if err := g.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("deleted = ?", false).Count(&count).Error; err != nil {
		return nil, err
	}

	var seq int64
	if err := g.db.WithContext(ctx).Model(&model.DocumentRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error; err != nil {
		return nil, err
	}

	return &Info{Name: g.name, DocCount: count, UpdateSeq: strconv.FormatInt(seq, 10)}, nil
}

func (g *GormStore) Get(ctx context.Context, id string) (*model.Document, error) {
	if g.isClosed() {
		return nil, NewError(KindClosed, "get", ErrClosed)
	}

	var record model.DocumentRecord
	err := g.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewError(KindNotFound, "get "+id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return g.decode(&record)
}

func (g *GormStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	var rev string
	err := g.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		rev, err = g.write(tx, doc.Clone(), false)
		return err
	})
	return rev, err
}

func (g *GormStore) Remove(ctx context.Context, id, rev string) error {
	return g.transaction(ctx, func(tx *gorm.DB) error {
		_, err := g.write(tx, &model.Document{ID: id, Rev: rev, Deleted: true}, false)
		return err
	})
}

func (g *GormStore) BulkDocs(ctx context.Context, docs []*model.Document, opts BulkOptions) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(docs))
	err := g.transaction(ctx, func(tx *gorm.DB) error {
		for _, doc := range docs {
			rev, err := g.write(tx, doc.Clone(), opts.Replicate)
			if err != nil && KindOf(err) != KindConflict && KindOf(err) != KindNotFound {
				return err
			}
			result := BulkResult{ID: doc.ID, Rev: rev, Err: err, Written: err == nil && rev != ""}
			if opts.Replicate && rev == "" && err == nil {
				result.Rev = doc.Rev
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (g *GormStore) transaction(ctx context.Context, f func(tx *gorm.DB) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return NewError(KindClosed, "write", ErrClosed)
	}

	return g.db.WithContext(ctx).Transaction(f)
}

// write stores one document inside tx. An empty revision with a nil error
// means a replicated revision lost against the stored one.
func (g *GormStore) write(tx *gorm.DB, doc *model.Document, replicate bool) (string, error) {
	var existing model.DocumentRecord
	err := tx.Where("id = ?", doc.ID).First(&existing).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	if replicate {
		if !acceptReplicated(exists, existing.Rev, doc) {
			return "", nil
		}
	} else {
		if err := checkRev("put "+doc.ID, exists, existing.Deleted, existing.Rev, doc.Rev); err != nil {
			return "", err
		}
		if doc.Deleted && (!exists || existing.Deleted) {
			return "", NewError(KindNotFound, "remove "+doc.ID, ErrNotFound)
		}
	}

	if doc.Deleted {
		doc.Fields = nil
	}

	body, err := doc.Body()
	if err != nil {
		return "", err
	}
	if replicate {
		doc.Revisions = replicatedRevisions(doc)
	} else {
		history, err := decodeRevisions(existing.Revisions)
		if err != nil {
			return "", err
		}
		doc.Rev = NextRev(existing.Rev, doc.Deleted, body)
		doc.Revisions = nextRevisions(existing.Rev, history, doc.Rev)
	}

	revisions, err := json.Marshal(doc.Revisions)
	if err != nil {
		return "", err
	}

	encoded, err := g.compress.Encode(body)
	if err != nil {
		return "", err
	}

	var seq int64
	if err := tx.Model(&model.DocumentRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error; err != nil {
		return "", err
	}

	class := model.ClassifyDocument(doc)
	record := &model.DocumentRecord{
		ID:          doc.ID,
		Rev:         doc.Rev,
		Seq:         seq + 1,
		Type:        class.Type,
		StoryID:     doc.StoryID(),
		IsStory:     class.Kind == model.KindStory,
		Deleted:     doc.Deleted,
		Revisions:   string(revisions),
		Body:        encoded,
		Compression: g.compression,
		UpdatedAt:   time.Now(),
	}

	if err := tx.Save(record).Error; err != nil {
		return "", err
	}

	return doc.Rev, nil
}

func (g *GormStore) Find(ctx context.Context, selector Selector) ([]*model.Document, error) {
	if g.isClosed() {
		return nil, NewError(KindClosed, "find", ErrClosed)
	}

	query := g.db.WithContext(ctx).Where("deleted = ?", false)
	if selector.Type != "" {
		query = query.Where("type = ?", selector.Type)
	}
	if selector.StoryID != "" {
		query = query.Where("story_id = ?", selector.StoryID)
	}
	if selector.StoriesOnly {
		query = query.Where("is_story = ?", true)
	}
	if selector.Limit > 0 {
		query = query.Limit(selector.Limit)
	}

	var records []*model.DocumentRecord
	if err := query.Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	return g.decodeAll(records)
}

func (g *GormStore) AllDocs(ctx context.Context) ([]*model.Document, error) {
	return g.Find(ctx, Selector{})
}

func (g *GormStore) Changes(ctx context.Context, req ChangesRequest) (*ChangesResult, error) {
	if g.isClosed() {
		return nil, NewError(KindClosed, "changes", ErrClosed)
	}

	since, err := parseSeq(req.Since)
	if err != nil {
		return nil, err
	}

	query := g.db.WithContext(ctx).Where("seq > ?", since).Order("seq")
	if req.Limit > 0 {
		query = query.Limit(req.Limit)
	}

	var records []*model.DocumentRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	result := &ChangesResult{
		Results: make([]Change, 0, len(records)),
		LastSeq: req.Since,
	}
	for _, record := range records {
		doc, err := g.decode(record)
		if err != nil {
			return nil, err
		}
		seq := strconv.FormatInt(record.Seq, 10)
		result.Results = append(result.Results, Change{
			Seq:     seq,
			ID:      record.ID,
			Rev:     record.Rev,
			Deleted: record.Deleted,
			Doc:     doc,
		})
		result.LastSeq = seq
	}

	if len(records) > 0 {
		var pending int64
		last := records[len(records)-1].Seq
		if err := g.db.WithContext(ctx).Model(&model.DocumentRecord{}).Where("seq > ?", last).Count(&pending).Error; err != nil {
			return nil, err
		}
		result.Pending = int(pending)
	}

	return result, nil
}

func (g *GormStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormStore) decodeAll(records []*model.DocumentRecord) ([]*model.Document, error) {
	docs := make([]*model.Document, 0, len(records))
	for _, record := range records {
		doc, err := g.decode(record)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (g *GormStore) decode(record *model.DocumentRecord) (*model.Document, error) {
	codec := g.compress
	if record.Compression != g.compression {
		// rows written under a previous LOCAL_COMPRESSION setting
		c, err := compress.New(record.Compression)
		if err != nil {
			return nil, err
		}
		codec = c
	}

	body, err := codec.Decode(record.Body)
	if err != nil {
		logrus.Errorf("error decoding document %s: %v", record.ID, err)
		return nil, err
	}

	fields := make(map[string]any)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}

	revisions, err := decodeRevisions(record.Revisions)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		ID:        record.ID,
		Rev:       record.Rev,
		Deleted:   record.Deleted,
		Revisions: revisions,
		Fields:    fields,
	}
	if record.Deleted {
		doc.Fields = nil
	}

	return doc, nil
}

// decodeRevisions reads the stored ancestry; rows written before ancestry
// was recorded have none.
func decodeRevisions(raw string) (*model.Revisions, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	revisions := &model.Revisions{}
	if err := json.Unmarshal([]byte(raw), revisions); err != nil {
		return nil, err
	}
	return revisions, nil
}
