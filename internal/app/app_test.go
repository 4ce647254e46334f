package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "test",
		SyncTimeout:         time.Second,
		TransferTimeout:     time.Second,
		BootstrapTimeout:    time.Second,
		BootstrapIdle:       100 * time.Millisecond,
		IndexRepairSchedule: "@every 1h",
		DeviceID:            "dev-1",
		DeviceName:          "Laptop",
	}
}

// memoryOpener keeps databases across switches like files on disk would.
type memoryOpener struct {
	mu  sync.Mutex
	dbs map[string]*store.MemoryStore
}

func (m *memoryOpener) open(ctx context.Context, name string) (store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dbs == nil {
		m.dbs = make(map[string]*store.MemoryStore)
	}
	if _, ok := m.dbs[name]; !ok {
		m.dbs[name] = store.NewMemoryStore(name)
	}
	return reopened{m.dbs[name]}, nil
}

// reopened ignores Close so the data outlives the handle.
type reopened struct {
	*store.MemoryStore
}

func (reopened) Close() error {
	return nil
}

func TestApp_SwitchUser(t *testing.T) {
	ctx := context.Background()
	opener := &memoryOpener{}
	a := NewWithDeps(testConfig(), Deps{Opener: opener.open})
	defer a.Close()

	require.NoError(t, a.SwitchUser(ctx, ""))
	assert.Equal(t, store.AnonymousDatabase, a.Stores.Name())

	require.NoError(t, a.SwitchUser(ctx, "Alice@Example.com"))
	assert.Equal(t, "storysync-alice-example-com", a.Stores.Name())
	assert.Equal(t, "Alice@Example.com", a.User())

	created, err := a.Stories.Create(ctx, "Alice's story")
	require.NoError(t, err)

	applied, err := a.FlushIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	list, err := a.Stories.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	// another user sees nothing of Alice
	require.NoError(t, a.SwitchUser(ctx, "bob"))
	list, err = a.Stories.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, a.SwitchUser(ctx, "Alice@Example.com"))
	list, err = a.Stories.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApp_PendingTasksFollowTheirDatabase(t *testing.T) {
	ctx := context.Background()
	opener := &memoryOpener{}
	a := NewWithDeps(testConfig(), Deps{Opener: opener.open})
	defer a.Close()

	require.NoError(t, a.SwitchUser(ctx, "alice"))
	_, err := a.Stories.Create(ctx, "Queued")
	require.NoError(t, err)

	// the switch flushes the queue into alice's index first
	require.NoError(t, a.SwitchUser(ctx, "bob"))
	n, err := a.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, a.SwitchUser(ctx, "alice"))
	list, err := a.Stories.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApp_OpenStoryWithoutRemote(t *testing.T) {
	ctx := context.Background()
	a := NewWithDeps(testConfig(), Deps{})
	defer a.Close()

	require.NoError(t, a.SwitchUser(ctx, "alice"))
	created, err := a.Stories.Create(ctx, "Offline")
	require.NoError(t, err)

	got, err := a.OpenStory(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offline", got.Title)
	assert.Equal(t, created.ID, a.Sync.Config().ActiveStoryID)

	a.CloseStory()
	assert.Empty(t, a.Sync.Config().ActiveStoryID)

	repaired, err := a.RepairIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
}
