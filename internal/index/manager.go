package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emrgen/storysync/internal/audit"
	"github.com/emrgen/storysync/internal/cache"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/replication"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries       = 3
	DefaultBootstrapTimeout = 90 * time.Second
	DefaultBootstrapIdle    = 3 * time.Second
)

// ErrRetriesExhausted is returned when every write attempt conflicted.
var ErrRetriesExhausted = errors.New("index write conflicted on every attempt")

// Syncer is the part of the replication controller the manager drives and
// listens to.
type Syncer interface {
	EnterBootstrap()
	ExitBootstrap()
	Subscribe() (<-chan replication.Status, func())
	Observe(h replication.EventHandler) func()
}

// Options tune the manager.
type Options struct {
	MaxRetries       int
	BootstrapTimeout time.Duration
	BootstrapIdle    time.Duration
}

// Manager keeps the story metadata index consistent with the story documents.
type Manager struct {
	provider store.Provider
	cache    cache.IndexCache
	sync     Syncer
	audit    audit.Log
	opts     Options
	group    singleflight.Group

	bootMu   sync.Mutex
	bootDone chan struct{}
}

// NewManager creates a manager. sync and log may be nil; without a syncer no
// bootstrap is attempted.
func NewManager(provider store.Provider, c cache.IndexCache, sync Syncer, log audit.Log, opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if opts.BootstrapIdle <= 0 {
		opts.BootstrapIdle = DefaultBootstrapIdle
	}
	if c == nil {
		c = cache.NewMemoryIndexCache()
	}

	m := &Manager{
		provider: provider,
		cache:    c,
		sync:     sync,
		audit:    log,
		opts:     opts,
	}
	if sync != nil {
		sync.Observe(m.onReplicated)
	}

	return m
}

// onReplicated drops the cached index when replication pulled a revision of
// it the cache does not hold.
func (m *Manager) onReplicated(ev replication.Event) {
	if ev.Type != replication.EventChange || ev.Direction != replication.DirectionPull {
		return
	}

	for _, doc := range ev.Docs {
		if doc.ID != model.MetadataIndexID {
			continue
		}

		ctx := context.Background()
		cached, err := m.cache.GetIndex(ctx, m.provider.Name())
		if err == nil && cached != nil && cached.Rev == doc.Rev {
			return
		}
		logrus.Debugf("replicated index revision %s, dropping cached index", doc.Rev)
		m.Invalidate(ctx)
		return
	}
}

// Get returns the index: cached, else the remote copy, else the local copy,
// else a rebuild. Concurrent callers share one fetch.
func (m *Manager) Get(ctx context.Context) (*model.MetadataIndex, error) {
	db := m.provider.Name()

	cached, err := m.cache.GetIndex(ctx, db)
	if err != nil {
		logrus.Warnf("error reading cached index: %v", err)
	}
	if cached != nil {
		return cached, nil
	}

	v, err, _ := m.group.Do(db, func() (any, error) {
		return m.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	return v.(*model.MetadataIndex).Clone(), nil
}

func (m *Manager) fetch(ctx context.Context) (*model.MetadataIndex, error) {
	var remoteIndex *model.MetadataIndex

	if remote := m.provider.Remote(); remote != nil {
		idx, err := readIndex(ctx, remote)
		switch {
		case err == nil && len(idx.Stories) > 0:
			m.remember(ctx, idx)
			return idx, nil
		case err == nil:
			if repaired, ok := m.repairRemote(ctx, remote); ok {
				m.remember(ctx, repaired)
				return repaired, nil
			}
			remoteIndex = idx
		case store.IsNotFound(err):
		default:
			logrus.Warnf("error reading remote index: %v", err)
		}
	}

	local, err := m.provider.Local()
	if err != nil {
		return nil, err
	}

	idx, err := readIndex(ctx, local)
	switch {
	case err == nil && (len(idx.Stories) > 0 || remoteIndex == nil):
		m.remember(ctx, idx)
		return idx, nil
	case err == nil || store.IsNotFound(err):
	default:
		logrus.Warnf("error reading local index: %v", err)
	}

	if remoteIndex != nil {
		m.remember(ctx, remoteIndex)
		return remoteIndex, nil
	}

	return m.Rebuild(ctx, false)
}

// repairRemote rebuilds an empty remote index when the remote holds stories,
// writes it to the remote and replicates the same revision to local.
func (m *Manager) repairRemote(ctx context.Context, remote store.Store) (*model.MetadataIndex, bool) {
	probe, err := remote.Find(ctx, store.Selector{StoriesOnly: true, Limit: 1})
	if err != nil {
		logrus.Warnf("error probing remote stories: %v", err)
		return nil, false
	}
	if len(probe) == 0 {
		return nil, false
	}

	logrus.Info("remote index is empty but remote has stories, rebuilding from remote")

	entries, err := scan(ctx, remote)
	if err != nil {
		logrus.Warnf("error scanning remote stories: %v", err)
		return nil, false
	}

	idx, err := m.apply(ctx, remote, nil, replaceEntries(entries))
	if err != nil {
		logrus.Warnf("error writing rebuilt remote index: %v", err)
		return nil, false
	}

	if local, err := m.provider.Local(); err == nil {
		if err := copyIndex(ctx, remote, local); err != nil {
			logrus.Warnf("error copying rebuilt index to local: %v", err)
		}
	}

	return idx, true
}

// Update upserts the entry of story. Failures are logged, never returned.
func (m *Manager) Update(ctx context.Context, story *model.Story) {
	entry := Project(story)
	m.mutateLocal(ctx, "update "+story.ID, func(idx *model.MetadataIndex) bool {
		i := idx.Find(entry.ID)
		if i >= 0 {
			if sameEntries(idx.Stories[i:i+1], []model.StoryMetadata{entry}) {
				return false
			}
			idx.Stories[i] = entry
		} else {
			idx.Stories = append(idx.Stories, entry)
		}
		SortEntries(idx.Stories)
		return true
	})
}

// Remove drops the entry of a story. Failures are logged, never returned.
func (m *Manager) Remove(ctx context.Context, storyID string) {
	m.mutateLocal(ctx, "remove "+storyID, func(idx *model.MetadataIndex) bool {
		i := idx.Find(storyID)
		if i < 0 {
			return false
		}
		idx.Stories = append(idx.Stories[:i], idx.Stories[i+1:]...)
		return true
	})
}

func (m *Manager) mutateLocal(ctx context.Context, op string, mutate func(idx *model.MetadataIndex) bool) {
	local, err := m.provider.Local()
	if err != nil {
		logrus.Warnf("index %s skipped: %v", op, err)
		return
	}

	idx, err := m.apply(ctx, local, m.seed, mutate)
	if err != nil {
		logrus.Errorf("index %s failed, index stays stale until rebuilt: %v", op, err)
		_ = m.cache.DeleteIndex(ctx, m.provider.Name())
		return
	}

	m.remember(ctx, idx)
}

// seed builds the starting entries when the local index does not exist yet.
func (m *Manager) seed(ctx context.Context, s store.Store) ([]model.StoryMetadata, error) {
	return scan(ctx, s)
}

// Rebuild scans the local stories and writes a fresh index. With no local
// stories and force unset nothing is written: an existing index is returned,
// or a bootstrap sync is started when the remote has stories and a transient
// empty index is returned.
func (m *Manager) Rebuild(ctx context.Context, force bool) (*model.MetadataIndex, error) {
	local, err := m.provider.Local()
	if err != nil {
		return nil, err
	}

	entries, err := scan(ctx, local)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 && !force {
		return m.emptyRebuild(ctx, local)
	}

	idx, err := m.apply(ctx, local, nil, replaceEntries(entries))
	if err != nil {
		return nil, err
	}

	logrus.Infof("rebuilt index with %d stories", len(idx.Stories))
	m.remember(ctx, idx)

	return idx, nil
}

func (m *Manager) emptyRebuild(ctx context.Context, local store.Store) (*model.MetadataIndex, error) {
	localIndex, err := readIndex(ctx, local)
	if err == nil && len(localIndex.Stories) > 0 {
		return localIndex, nil
	}

	remote := m.provider.Remote()
	if remote != nil {
		remoteIndex, err := readIndex(ctx, remote)
		if err == nil && len(remoteIndex.Stories) > 0 {
			return remoteIndex, nil
		}

		probe, err := remote.Find(ctx, store.Selector{StoriesOnly: true, Limit: 1})
		if err != nil {
			logrus.Warnf("error probing remote stories: %v", err)
		} else if len(probe) > 0 {
			m.startBootstrap()
		}
	}

	if localIndex != nil {
		return localIndex, nil
	}

	// transient: never written
	idx := model.NewMetadataIndex()
	idx.LastUpdated = time.Now().UTC()
	return idx, nil
}

// Bootstrapping reports whether a bootstrap sync is running.
func (m *Manager) Bootstrapping() bool {
	m.bootMu.Lock()
	defer m.bootMu.Unlock()
	return m.bootDone != nil
}

// WaitBootstrap blocks until the running bootstrap, if any, finished.
func (m *Manager) WaitBootstrap(ctx context.Context) error {
	m.bootMu.Lock()
	done := m.bootDone
	m.bootMu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) startBootstrap() {
	if m.sync == nil {
		logrus.Warn("local database is empty but no replication is available for bootstrap")
		return
	}

	m.bootMu.Lock()
	defer m.bootMu.Unlock()

	if m.bootDone != nil {
		return
	}
	done := make(chan struct{})
	m.bootDone = done

	go func() {
		defer func() {
			m.bootMu.Lock()
			m.bootDone = nil
			m.bootMu.Unlock()
			close(done)
		}()

		m.bootstrap(context.Background())
	}()
}

// bootstrap widens replication to every document, waits for the data to
// arrive, restores selective replication and writes the index to both sides.
func (m *Manager) bootstrap(ctx context.Context) {
	db := m.provider.Name()
	start := time.Now()

	var auditID string
	if m.audit != nil {
		id, err := m.audit.Start(ctx, audit.OperationBootstrap, string(replication.DirectionPull), db)
		if err != nil {
			logrus.Warnf("error writing audit entry: %v", err)
		}
		auditID = id
	}

	logrus.Infof("bootstrap sync of %s started", db)

	m.sync.EnterBootstrap()
	status, unsubscribe := m.sync.Subscribe()
	docs, reason := m.waitBootstrap(status, start)
	unsubscribe()
	m.sync.ExitBootstrap()

	logrus.Infof("bootstrap sync of %s ended (%s) after %d documents", db, reason, docs)

	idx, err := m.writeBootstrapIndex(ctx)
	if err == nil && idx == nil {
		err = fmt.Errorf("bootstrap ended (%s) without stories", reason)
	}

	if err != nil {
		logrus.Errorf("bootstrap sync of %s failed: %v", db, err)
	}

	if auditID != "" {
		outcome := model.AuditStatusSuccess
		if err != nil {
			outcome = model.AuditStatusError
		}
		if cerr := m.audit.Complete(ctx, auditID, outcome, docs, time.Since(start), err); cerr != nil {
			logrus.Warnf("error completing audit entry: %v", cerr)
		}
	}
}

// waitBootstrap returns on whichever fires first: the hard timeout, no new
// documents for the idle period after at least one arrived, or a completed
// sync that transferred documents.
func (m *Manager) waitBootstrap(status <-chan replication.Status, start time.Time) (int, string) {
	hard := time.NewTimer(m.opts.BootstrapTimeout)
	defer hard.Stop()

	idle := time.NewTimer(m.opts.BootstrapIdle)
	idle.Stop()
	defer idle.Stop()

	docs := 0
	for {
		select {
		case <-hard.C:
			return docs, "timeout"
		case <-idle.C:
			return docs, "idle"
		case s, ok := <-status:
			if !ok {
				return docs, "closed"
			}
			if s.SyncProgress != nil && s.SyncProgress.DocsProcessed > docs {
				docs = s.SyncProgress.DocsProcessed
				idle.Reset(m.opts.BootstrapIdle)
			}
			if !s.IsSync && s.LastSync != nil && s.LastSync.After(start) && docs > 0 {
				return docs, "complete"
			}
		}
	}
}

// writeBootstrapIndex rebuilds from the replicated stories on top of any
// remote index revision, then hands the same revision to the remote.
func (m *Manager) writeBootstrapIndex(ctx context.Context) (*model.MetadataIndex, error) {
	local, err := m.provider.Local()
	if err != nil {
		return nil, err
	}

	entries, err := scan(ctx, local)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	remote := m.provider.Remote()
	if remote != nil {
		if doc, err := remote.Get(ctx, model.MetadataIndexID); err == nil {
			if _, err := local.BulkDocs(ctx, []*model.Document{doc}, store.BulkOptions{Replicate: true}); err != nil {
				logrus.Warnf("error copying remote index: %v", err)
			}
		}
	}

	idx, err := m.apply(ctx, local, nil, replaceEntries(entries))
	if err != nil {
		return nil, err
	}

	if remote != nil {
		if err := copyIndex(ctx, local, remote); err != nil {
			logrus.Warnf("error writing bootstrap index to remote: %v", err)
		}
	}

	m.remember(ctx, idx)
	return idx, nil
}

// apply runs a read-modify-write of the index on s, retrying on conflicts.
// seed provides the entries of an index that does not exist yet; nil starts
// empty. mutate reports whether it changed anything; unchanged indexes are
// not written.
func (m *Manager) apply(ctx context.Context, s store.Store, seed func(context.Context, store.Store) ([]model.StoryMetadata, error), mutate func(idx *model.MetadataIndex) bool) (*model.MetadataIndex, error) {
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		current, err := readIndex(ctx, s)
		exists := err == nil
		if err != nil && !store.IsNotFound(err) {
			return nil, err
		}

		if !exists {
			current = model.NewMetadataIndex()
			if seed != nil {
				entries, err := seed(ctx, s)
				if err != nil {
					return nil, err
				}
				current.Stories = entries
			}
		}

		next := current.Clone()
		if !mutate(next) && exists {
			return current, nil
		}
		next.LastUpdated = time.Now().UTC()

		doc, err := next.ToDocument()
		if err != nil {
			return nil, err
		}
		doc.Rev = current.Rev

		rev, err := s.Put(ctx, doc)
		if err == nil {
			next.Rev = rev
			return next, nil
		}
		if !store.IsConflict(err) {
			return nil, err
		}

		logrus.Warnf("index write on %s conflicted (attempt %d/%d)", s.Name(), attempt, m.opts.MaxRetries)
	}

	return nil, ErrRetriesExhausted
}

func (m *Manager) remember(ctx context.Context, idx *model.MetadataIndex) {
	if err := m.cache.SetIndex(ctx, m.provider.Name(), idx); err != nil {
		logrus.Warnf("error caching index: %v", err)
	}
}

// Invalidate drops the cached index of the current database.
func (m *Manager) Invalidate(ctx context.Context) {
	if err := m.cache.DeleteIndex(ctx, m.provider.Name()); err != nil {
		logrus.Warnf("error dropping cached index: %v", err)
	}
}

func replaceEntries(entries []model.StoryMetadata) func(idx *model.MetadataIndex) bool {
	return func(idx *model.MetadataIndex) bool {
		if sameEntries(idx.Stories, entries) {
			return false
		}
		idx.Stories = entries
		return true
	}
}

// copyIndex replicates the index of src to dst under the same revision and
// ancestry.
func copyIndex(ctx context.Context, src, dst store.Store) error {
	doc, err := src.Get(ctx, model.MetadataIndexID)
	if err != nil {
		return err
	}
	results, err := dst.BulkDocs(ctx, []*model.Document{doc}, store.BulkOptions{Replicate: true})
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func readIndex(ctx context.Context, s store.Store) (*model.MetadataIndex, error) {
	doc, err := s.Get(ctx, model.MetadataIndexID)
	if err != nil {
		return nil, err
	}
	return model.MetadataIndexFromDocument(doc)
}

// scan projects every story of s, sorted for display.
func scan(ctx context.Context, s store.Store) ([]model.StoryMetadata, error) {
	docs, err := s.Find(ctx, store.Selector{StoriesOnly: true})
	if err != nil {
		return nil, err
	}

	entries := make([]model.StoryMetadata, 0, len(docs))
	for _, doc := range docs {
		if model.ClassifyDocument(doc).Kind != model.KindStory {
			continue
		}
		entry, err := ProjectDocument(doc)
		if err != nil {
			logrus.Warnf("skipping undecodable story %s: %v", doc.ID, err)
			continue
		}
		entries = append(entries, entry)
	}
	SortEntries(entries)

	return entries, nil
}
