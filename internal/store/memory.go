package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/emrgen/storysync/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps documents in process memory.
// Thread-safe; used for anonymous scratch databases and as a test peer.
type MemoryStore struct {
	mu     sync.RWMutex
	name   string
	docs   map[string]*memoryEntry
	seq    int64
	closed bool
}

type memoryEntry struct {
	doc *model.Document
	seq int64
}

// NewMemoryStore creates an empty in-memory database.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name: name,
		docs: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Name() string {
	return m.name
}

func (m *MemoryStore) Info(ctx context.Context) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewError(KindClosed, "info", ErrClosed)
	}

	var count int64
	for _, e := range m.docs {
		if !e.doc.Deleted {
			count++
		}
	}

	return &Info{Name: m.name, DocCount: count, UpdateSeq: strconv.FormatInt(m.seq, 10)}, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewError(KindClosed, "get", ErrClosed)
	}

	e, ok := m.docs[id]
	if !ok || e.doc.Deleted {
		return nil, NewError(KindNotFound, "get "+id, ErrNotFound)
	}

	return e.doc.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(doc.Clone(), false)
}

func (m *MemoryStore) Remove(ctx context.Context, id, rev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.write(&model.Document{ID: id, Rev: rev, Deleted: true}, false)
	return err
}

// write stores doc; the caller holds the write lock.
func (m *MemoryStore) write(doc *model.Document, replicate bool) (string, error) {
	if m.closed {
		return "", NewError(KindClosed, "put", ErrClosed)
	}

	existing, exists := m.docs[doc.ID]
	var current string
	var deleted bool
	var history *model.Revisions
	if exists {
		current = existing.doc.Rev
		deleted = existing.doc.Deleted
		history = existing.doc.Revisions
	}

	if replicate {
		if !acceptReplicated(exists, current, doc) {
			return "", nil
		}
		doc.Revisions = replicatedRevisions(doc)
	} else {
		if err := checkRev("put "+doc.ID, exists, deleted, current, doc.Rev); err != nil {
			return "", err
		}
		if doc.Deleted && (!exists || deleted) {
			return "", NewError(KindNotFound, "remove "+doc.ID, ErrNotFound)
		}

		body, err := doc.Body()
		if err != nil {
			return "", err
		}
		doc.Rev = NextRev(current, doc.Deleted, body)
		doc.Revisions = nextRevisions(current, history, doc.Rev)
	}

	if doc.Deleted {
		doc.Fields = nil
	}

	m.seq++
	m.docs[doc.ID] = &memoryEntry{doc: doc, seq: m.seq}

	return doc.Rev, nil
}

func (m *MemoryStore) Find(ctx context.Context, selector Selector) ([]*model.Document, error) {
	docs, err := m.AllDocs(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*model.Document, 0)
	for _, doc := range docs {
		if !selector.Match(doc) {
			continue
		}
		matched = append(matched, doc)
		if selector.Limit > 0 && len(matched) >= selector.Limit {
			break
		}
	}

	return matched, nil
}

func (m *MemoryStore) AllDocs(ctx context.Context) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewError(KindClosed, "all docs", ErrClosed)
	}

	docs := make([]*model.Document, 0, len(m.docs))
	for _, e := range m.docs {
		if !e.doc.Deleted {
			docs = append(docs, e.doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	return docs, nil
}

func (m *MemoryStore) BulkDocs(ctx context.Context, docs []*model.Document, opts BulkOptions) ([]BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, NewError(KindClosed, "bulk docs", ErrClosed)
	}

	results := make([]BulkResult, 0, len(docs))
	for _, doc := range docs {
		rev, err := m.write(doc.Clone(), opts.Replicate)
		result := BulkResult{ID: doc.ID, Rev: rev, Err: err, Written: err == nil && rev != ""}
		if opts.Replicate && rev == "" && err == nil {
			result.Rev = doc.Rev
		}
		results = append(results, result)
	}

	return results, nil
}

func (m *MemoryStore) Changes(ctx context.Context, req ChangesRequest) (*ChangesResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewError(KindClosed, "changes", ErrClosed)
	}

	since, err := parseSeq(req.Since)
	if err != nil {
		return nil, err
	}

	entries := make([]*memoryEntry, 0)
	for _, e := range m.docs {
		if e.seq > since {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	pending := 0
	if req.Limit > 0 && len(entries) > req.Limit {
		pending = len(entries) - req.Limit
		entries = entries[:req.Limit]
	}

	result := &ChangesResult{
		Results: make([]Change, 0, len(entries)),
		LastSeq: req.Since,
		Pending: pending,
	}
	for _, e := range entries {
		seq := strconv.FormatInt(e.seq, 10)
		result.Results = append(result.Results, Change{
			Seq:     seq,
			ID:      e.doc.ID,
			Rev:     e.doc.Rev,
			Deleted: e.doc.Deleted,
			Doc:     e.doc.Clone(),
		})
		result.LastSeq = seq
	}

	return result, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func parseSeq(seq string) (int64, error) {
	if seq == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, NewError(KindMalformed, "parse seq "+seq, err)
	}
	return n, nil
}
