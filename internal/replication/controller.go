package replication

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	couchPort           = "5984"
	proxyDatabasePrefix = "/_db/"
	DefaultForceTimeout = 10 * time.Second
)

// State of the controller lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateSyncing    State = "syncing"
	StatePaused     State = "paused"
	StateError      State = "error"
)

// Connector opens and drops the remote database.
type Connector interface {
	store.Provider
	ConnectRemote(ctx context.Context, url string, creds store.Credentials) (store.Store, error)
	DisconnectRemote()
}

// ControllerOptions configure the controller.
type ControllerOptions struct {
	Options
	// Origin is the application origin the remote url is derived from.
	Origin       string
	Credentials  store.Credentials
	ForceTimeout time.Duration
}

// ResolveRemoteURL derives the remote database url from the application
// origin: the database port directly when the origin runs on a default port
// or on the database port, a /_db/ prefix behind a reverse proxy otherwise.
func ResolveRemoteURL(origin, db string) (string, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("invalid origin %q", origin)
	}

	port := u.Port()
	direct := port == "" || port == couchPort ||
		(u.Scheme == "http" && port == "80") ||
		(u.Scheme == "https" && port == "443")

	if direct {
		return fmt.Sprintf("%s://%s:%s/%s", u.Scheme, u.Hostname(), couchPort, db), nil
	}

	return fmt.Sprintf("%s://%s%s%s", u.Scheme, u.Host, proxyDatabasePrefix, db), nil
}

type checkpointKey struct {
	local  string
	remote string
	cfg    SessionConfig
	dir    Direction
}

// Controller owns the live replication session between the local and the
// remote database and publishes the sync status.
type Controller struct {
	conn   Connector
	opts   ControllerOptions
	status *Broadcaster
	state  atomic.Value

	// mu guards the session lifecycle; event handlers never take it
	mu         sync.Mutex
	cfg        SessionConfig
	session    *Session
	running    bool
	pauseCount int

	cpMu        sync.Mutex
	checkpoints map[checkpointKey]string

	onStart func(SessionConfig)
	onStop  func(SessionConfig)

	obsMu     sync.RWMutex
	observers map[int]EventHandler
	nextObs   int
}

func NewController(conn Connector, opts ControllerOptions) *Controller {
	if opts.ForceTimeout <= 0 {
		opts.ForceTimeout = DefaultForceTimeout
	}
	opts.Options.defaults()

	c := &Controller{
		conn:        conn,
		opts:        opts,
		status:      NewBroadcaster(),
		checkpoints: make(map[checkpointKey]string),
		observers:   make(map[int]EventHandler),
	}
	c.state.Store(StateIdle)

	return c
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return c.state.Load().(State)
}

// Status returns a snapshot of the sync status.
func (c *Controller) Status() Status {
	return c.status.Get()
}

// Subscribe streams status updates; call the returned function to stop.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	return c.status.Subscribe()
}

// Observe registers h for every session event after the status was updated.
// Call the returned function to stop observing.
func (c *Controller) Observe(h EventHandler) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = h

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Controller) notify(ev Event) {
	c.obsMu.RLock()
	handlers := make([]EventHandler, 0, len(c.observers))
	for _, h := range c.observers {
		handlers = append(handlers, h)
	}
	c.obsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Config returns the current session configuration.
func (c *Controller) Config() SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Connect connects to the remote database and starts the live session. An
// empty url is derived from the configured origin.
func (c *Controller) Connect(ctx context.Context, remoteURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remoteURL == "" {
		if c.opts.Origin == "" {
			logrus.Debug("no remote configured, skipping connect")
			return store.ErrNoRemote
		}
		resolved, err := ResolveRemoteURL(c.opts.Origin, c.conn.Name())
		if err != nil {
			return err
		}
		remoteURL = resolved
	}

	c.stopLocked()
	c.state.Store(StateConnecting)
	c.status.Update(func(s *Status) {
		s.IsConnecting = true
		s.Error = ""
	})

	if _, err := c.conn.ConnectRemote(ctx, remoteURL, c.opts.Credentials); err != nil {
		logrus.Errorf("error connecting to %s: %v", remoteURL, err)
		c.running = false
		c.state.Store(StateIdle)
		c.status.Update(func(s *Status) {
			s.IsOnline = false
			s.IsConnecting = false
			s.IsSync = false
			s.SyncProgress = nil
			s.Error = store.UserMessage(err)
		})
		return err
	}

	c.status.Update(func(s *Status) {
		s.IsOnline = true
		s.IsConnecting = false
	})

	c.running = true
	c.startLocked()

	return nil
}

// Start resumes live replication against an already connected remote.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn.Remote() == nil {
		return
	}
	c.running = true
	c.startLocked()
}

// Stop ends the live session but keeps the remote connection.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.stopLocked()
	c.state.Store(StateIdle)
	c.status.Update(func(s *Status) {
		s.IsSync = false
		s.SyncProgress = nil
	})
}

// Disconnect ends the live session and drops the remote.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.stopLocked()
	c.conn.DisconnectRemote()
	c.state.Store(StateIdle)
	c.status.Update(func(s *Status) {
		s.IsOnline = false
		s.IsSync = false
		s.IsConnecting = false
		s.SyncProgress = nil
	})
}

// SetActiveStory changes the story whose documents replicate live. A running
// session is restarted only when the story actually changed.
func (c *Controller) SetActiveStory(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.ActiveStoryID == id {
		return
	}
	c.cfg.ActiveStoryID = id
	logrus.Infof("active story set to %q", id)
	c.restartLocked()
}

// EnterBootstrap widens the filter to every document and restarts the session.
func (c *Controller) EnterBootstrap() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Bootstrap {
		return
	}
	c.cfg.Bootstrap = true
	logrus.Info("entering bootstrap sync")
	c.restartLocked()
}

// ExitBootstrap restores selective replication.
func (c *Controller) ExitBootstrap() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Bootstrap {
		return
	}
	c.cfg.Bootstrap = false
	logrus.Info("leaving bootstrap sync")
	c.restartLocked()
}

// Pause stops the live session until a matching Resume. Calls nest.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pauseCount++
	if c.pauseCount > 1 {
		return
	}

	if c.session != nil {
		c.stopLocked()
		c.status.Update(func(s *Status) {
			s.IsSync = false
			s.SyncProgress = nil
		})
	}
	if c.running {
		c.state.Store(StatePaused)
	}
}

// Resume undoes one Pause and restarts the session once none are left.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pauseCount == 0 {
		return
	}
	c.pauseCount--
	if c.pauseCount == 0 {
		c.startLocked()
	}
}

// Paused reports the outstanding pause count.
func (c *Controller) Paused() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseCount
}

// ForceReplicateDocument pulls one document from the remote regardless of
// the filter. Without a remote it does nothing.
func (c *Controller) ForceReplicateDocument(ctx context.Context, id string) error {
	remote := c.conn.Remote()
	if remote == nil {
		return nil
	}
	local, err := c.conn.Local()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ForceTimeout)
	defer cancel()

	doc, err := remote.Get(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			err = store.NewError(store.KindTimeout, "force replicate "+id, err)
		}
		logrus.Warnf("error force replicating %s: %v", id, err)
		return err
	}

	results, err := local.BulkDocs(ctx, []*model.Document{doc}, store.BulkOptions{Replicate: true})
	if err != nil {
		logrus.Warnf("error force replicating %s: %v", id, err)
		return err
	}
	logrus.Debugf("force replicated %s (%d written)", id, store.Written(results))

	return nil
}

func (c *Controller) restartLocked() {
	if c.session == nil && !c.running {
		return
	}
	c.stopLocked()
	c.startLocked()
}

func (c *Controller) startLocked() {
	if !c.running || c.pauseCount > 0 || c.session != nil {
		return
	}

	remote := c.conn.Remote()
	if remote == nil {
		return
	}
	local, err := c.conn.Local()
	if err != nil {
		logrus.Warnf("cannot start replication: %v", err)
		return
	}

	cfg := c.cfg
	key := func(dir Direction) checkpointKey {
		return checkpointKey{local: local.Name(), remote: remote.Name(), cfg: cfg, dir: dir}
	}

	opts := SessionOptions{
		Options:   c.opts.Options,
		PushSince: c.checkpoint(key(DirectionPush)),
		PullSince: c.checkpoint(key(DirectionPull)),
		OnCheckpoint: func(dir Direction, seq string) {
			c.setCheckpoint(key(dir), seq)
		},
	}

	c.status.Update(func(s *Status) {
		s.IsSync = true
		s.Error = ""
		s.SyncProgress = &Progress{Direction: DirectionBoth}
	})

	c.session = StartSession(local, remote, cfg, opts, c.handle)
	c.state.Store(StateSyncing)
	logrus.Infof("live replication started (active story %q, bootstrap %v)", cfg.ActiveStoryID, cfg.Bootstrap)

	if c.onStart != nil {
		c.onStart(cfg)
	}
}

func (c *Controller) stopLocked() {
	if c.session == nil {
		return
	}

	session := c.session
	c.session = nil
	session.Cancel()
	logrus.Debug("live replication stopped")

	if c.onStop != nil {
		c.onStop(session.Config())
	}
}

func (c *Controller) checkpoint(key checkpointKey) string {
	c.cpMu.Lock()
	defer c.cpMu.Unlock()
	return c.checkpoints[key]
}

func (c *Controller) setCheckpoint(key checkpointKey, seq string) {
	c.cpMu.Lock()
	defer c.cpMu.Unlock()
	c.checkpoints[key] = seq
}

// handle turns session events into status updates.
func (c *Controller) handle(ev Event) {
	defer c.notify(ev)

	switch ev.Type {
	case EventChange:
		c.status.Update(func(s *Status) {
			s.IsSync = true
			p := s.SyncProgress
			if p == nil {
				p = &Progress{}
				s.SyncProgress = p
			}
			p.DocsProcessed += len(ev.Docs)
			p.Direction = ev.Direction
			if len(ev.Docs) > 0 {
				doc := ev.Docs[len(ev.Docs)-1]
				p.CurrentDoc = &DocumentRef{ID: doc.ID, Type: model.ClassifyDocument(doc).Kind.String(), Title: doc.Title()}
				if t := doc.Type(); t != "" {
					p.CurrentDoc.Type = t
				}
			}
			if ev.Pending >= 0 {
				pending := ev.Pending
				p.PendingDocs = &pending
			}
		})
	case EventActive:
		c.state.Store(StateSyncing)
		c.status.Update(func(s *Status) {
			s.IsSync = true
			if ev.Pending >= 0 {
				if s.SyncProgress == nil {
					s.SyncProgress = &Progress{Direction: ev.Direction}
				}
				pending := ev.Pending
				s.SyncProgress.PendingDocs = &pending
			}
		})
	case EventPaused:
		now := time.Now()
		c.status.Update(func(s *Status) {
			s.IsSync = false
			s.LastSync = &now
			s.Error = ""
			if s.SyncProgress != nil {
				zero := 0
				s.SyncProgress.PendingDocs = &zero
				s.SyncProgress.CurrentDoc = nil
			}
		})
	case EventError:
		c.state.Store(StateError)
		c.status.Update(func(s *Status) {
			s.IsSync = false
			s.SyncProgress = nil
			s.Error = store.UserMessage(ev.Err)
		})
	}
}
