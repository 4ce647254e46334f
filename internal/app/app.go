package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/emrgen/storysync/internal/audit"
	"github.com/emrgen/storysync/internal/cache"
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/generation"
	"github.com/emrgen/storysync/internal/index"
	"github.com/emrgen/storysync/internal/jobs"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/queue"
	"github.com/emrgen/storysync/internal/replication"
	"github.com/emrgen/storysync/internal/story"
	"github.com/emrgen/storysync/internal/store"
	"github.com/emrgen/storysync/internal/transfer"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Deps are the pluggable backends of the app. Nil fields get in-memory
// defaults.
type Deps struct {
	Opener store.LocalOpener
	Client *http.Client
	Audit  audit.Log
	Cache  cache.IndexCache
	Queue  queue.IndexQueue
}

// App wires the stores, replication, the index and the story repository
// for the signed-in user.
type App struct {
	cfg *config.Config

	Stores   *store.Manager
	Sync     *replication.Controller
	Index    *index.Manager
	Stories  *story.Repository
	Transfer *transfer.Service
	Audit    audit.Log
	Queue    queue.IndexQueue

	indexSync *jobs.IndexSyncTask
	repair    *jobs.IndexRepairTask
	executor  *jobs.TaskExecutor

	mu      sync.Mutex
	user    string
	closers []io.Closer
}

// New builds the app from the configuration: sqlite or postgres storage, the
// gorm audit log, and redis for the index cache and queue when configured.
func New(cfg *config.Config) (*App, error) {
	db, err := config.GetDb(cfg)
	if err != nil {
		return nil, err
	}
	if err := model.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate app database: %w", err)
	}

	deps := Deps{
		Opener: config.LocalOpener(cfg),
		Audit:  audit.NewGormLog(db),
	}

	var closers []io.Closer
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		deps.Cache = cache.NewRedisIndexCacheWithClient(client)
		deps.Queue = queue.NewRedisQueue(client)
		closers = append(closers, client)
		logrus.Infof("using redis at %s for the index cache and queue", cfg.RedisAddr)
	}

	a := NewWithDeps(cfg, deps)
	a.closers = append(a.closers, closers...)

	return a, nil
}

func NewWithDeps(cfg *config.Config, deps Deps) *App {
	if deps.Opener == nil {
		deps.Opener = func(ctx context.Context, name string) (store.Store, error) {
			return store.NewMemoryStore(name), nil
		}
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewMemoryLog()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryIndexCache()
	}
	if deps.Queue == nil {
		deps.Queue = queue.NewMemoryQueue()
	}

	stores := store.NewManager(deps.Opener, deps.Client)

	controller := replication.NewController(stores, replication.ControllerOptions{
		Options: replication.Options{Timeout: cfg.SyncTimeout},
		Origin:  cfg.RemoteOrigin,
		Credentials: store.Credentials{
			Username: cfg.RemoteUsername,
			Password: cfg.RemotePassword,
		},
	})

	idx := index.NewManager(stores, deps.Cache, controller, deps.Audit, index.Options{
		BootstrapTimeout: cfg.BootstrapTimeout,
		BootstrapIdle:    cfg.BootstrapIdle,
	})

	stories := story.NewRepository(stores, deps.Queue, idx, story.Device{ID: cfg.DeviceID, Name: cfg.DeviceName})

	transfers := transfer.NewService(stores, deps.Audit, transfer.Options{
		Timeout:     cfg.TransferTimeout,
		Replication: replication.Options{Timeout: cfg.SyncTimeout},
	})

	indexSync := jobs.NewIndexSyncTask(deps.Queue, idx, stores.Name)
	repair := jobs.NewIndexRepairTask(cfg.IndexRepairSchedule, stores, idx)

	return &App{
		cfg:       cfg,
		Stores:    stores,
		Sync:      controller,
		Index:     idx,
		Stories:   stories,
		Transfer:  transfers,
		Audit:     deps.Audit,
		Queue:     deps.Queue,
		indexSync: indexSync,
		repair:    repair,
		executor:  jobs.NewTaskExecutor([]jobs.Job{indexSync}, []jobs.CronJob{repair}),
	}
}

// Start opens the configured user's database and starts the background jobs.
func (a *App) Start(ctx context.Context) error {
	if err := a.SwitchUser(ctx, a.cfg.UserID); err != nil {
		return err
	}
	return a.executor.Run()
}

// SwitchUser closes the current database, opens the one of userID (the
// anonymous database when empty) and reconnects replication.
func (a *App) SwitchUser(ctx context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := store.DatabaseName(userID)
	logrus.Infof("switching to database %s", name)

	// tasks of the previous user still need its database
	if _, err := a.indexSync.Flush(ctx); err != nil {
		logrus.Warnf("error flushing index queue: %v", err)
	}

	a.Sync.Disconnect()
	a.Sync.SetActiveStory("")

	if _, err := a.Stores.Open(ctx, name); err != nil {
		return err
	}
	a.user = userID
	a.Index.Invalidate(ctx)

	if err := a.connect(ctx, name); err != nil {
		// local-only until the next connect
		logrus.Warnf("replication not started: %v", err)
	}

	return nil
}

// Connect (re)connects replication of the current database.
func (a *App) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connect(ctx, a.Stores.Name())
}

func (a *App) connect(ctx context.Context, name string) error {
	url := ""
	if a.cfg.RemoteURL != "" {
		url = strings.TrimRight(a.cfg.RemoteURL, "/") + "/" + name
	}

	err := a.Sync.Connect(ctx, url)
	if errors.Is(err, store.ErrNoRemote) {
		logrus.Info("no remote configured, running local only")
		return nil
	}
	return err
}

// User returns the signed-in user id, empty for anonymous.
func (a *App) User() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// OpenStory narrows replication to the story and pulls its latest revision.
func (a *App) OpenStory(ctx context.Context, id string) (*model.Story, error) {
	a.Sync.SetActiveStory(id)
	if err := a.Sync.ForceReplicateDocument(ctx, id); err != nil {
		logrus.Warnf("error fetching latest revision of %s: %v", id, err)
	}
	return a.Stories.Get(ctx, id)
}

// CloseStory stops replicating the open story.
func (a *App) CloseStory() {
	a.Sync.SetActiveStory("")
}

// FlushIndex applies queued index updates now.
func (a *App) FlushIndex(ctx context.Context) (int, error) {
	return a.indexSync.Flush(ctx)
}

// RepairIndex re-applies missing or stale index entries.
func (a *App) RepairIndex(ctx context.Context) (int, error) {
	return a.repair.Check(ctx)
}

// Generator wraps g so replication pauses while its streams are open.
func (a *App) Generator(g generation.Generator) *generation.PausingGenerator {
	return generation.NewPausingGenerator(g, a.Sync)
}

func (a *App) Close() error {
	a.executor.Stop()
	a.Sync.Disconnect()

	var errs []error
	if _, err := a.indexSync.Flush(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := a.Stores.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
