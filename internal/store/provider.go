package store

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	databasePrefix    = "storysync-"
	AnonymousDatabase = databasePrefix + "anonymous"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_$()+-]`)

// DatabaseName derives the per-user database name. An empty user id selects
// the anonymous database.
func DatabaseName(userID string) string {
	id := unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(userID)), "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return AnonymousDatabase
	}
	return databasePrefix + id
}

// Provider hands out the currently open handles. Consumers must not cache
// them across calls: switching users replaces both.
type Provider interface {
	// Local returns the open local database or ErrNoLocal.
	Local() (Store, error)
	// Remote returns the connected remote database, nil when none is configured.
	Remote() Store
	// Name returns the current database name.
	Name() string
}

// LocalOpener opens the local database with the given name.
type LocalOpener func(ctx context.Context, name string) (Store, error)

var _ Provider = (*Manager)(nil)

// Manager owns the lifecycle of the local and remote database handles.
type Manager struct {
	mu     sync.RWMutex
	open   LocalOpener
	client *http.Client
	name   string
	local  Store
	remote Store
}

// NewManager creates a manager; client may be nil for http.DefaultClient.
func NewManager(open LocalOpener, client *http.Client) *Manager {
	return &Manager{open: open, client: client}
}

// Open closes the current local database and opens the named one. Secondary
// indexes are created in the background.
func (m *Manager) Open(ctx context.Context, name string) (Store, error) {
	m.mu.Lock()
	if m.local != nil {
		if err := m.local.Close(); err != nil {
			logrus.Warnf("error closing local database %s: %v", m.local.Name(), err)
		}
		m.local = nil
	}

	local, err := m.open(ctx, name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.local = local
	m.name = name
	m.mu.Unlock()

	logrus.Infof("opened local database %s", name)

	if creator, ok := local.(IndexCreator); ok {
		go func() {
			err := creator.CreateIndexes(context.Background())
			if err == nil || KindOf(err) == KindClosed {
				return
			}
			logrus.Warnf("error creating indexes on %s: %v", name, err)
		}()
	}

	return local, nil
}

type connectResult struct {
	store *HTTPStore
	err   error
}

// ConnectRemote connects to the remote database at url and verifies it is
// alive. A connection that completes after ctx is done is closed and dropped.
func (m *Manager) ConnectRemote(ctx context.Context, url string, creds Credentials) (Store, error) {
	remote, err := NewHTTPStore(url, creds, m.client)
	if err != nil {
		return nil, NewError(KindUnreachable, "connect", err)
	}

	done := make(chan connectResult, 1)
	go func() {
		_, err := remote.Info(context.WithoutCancel(ctx))
		done <- connectResult{store: remote, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			res := <-done
			_ = res.store.Close()
			if res.err == nil {
				logrus.Infof("discarding late remote connection to %s", remote.URL())
			}
		}()
		return nil, NewError(KindTimeout, "connect", ctx.Err())
	case res := <-done:
		if res.err != nil {
			_ = res.store.Close()
			logrus.Errorf("error connecting to remote database %s: %v", remote.URL(), res.err)
			if KindOf(res.err) == KindNotFound || KindOf(res.err) == KindUnknown {
				return nil, NewError(KindUnreachable, "connect", res.err)
			}
			return nil, res.err
		}
	}

	m.mu.Lock()
	previous := m.remote
	m.remote = remote
	m.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	logrus.Infof("connected to remote database %s", remote.URL())
	return remote, nil
}

// DisconnectRemote drops the remote handle.
func (m *Manager) DisconnectRemote() {
	m.mu.Lock()
	remote := m.remote
	m.remote = nil
	m.mu.Unlock()

	if remote != nil {
		_ = remote.Close()
	}
}

func (m *Manager) Local() (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.local == nil {
		return nil, ErrNoLocal
	}
	return m.local, nil
}

func (m *Manager) Remote() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote
}

func (m *Manager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Close releases both handles.
func (m *Manager) Close() error {
	m.DisconnectRemote()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return nil
	}
	err := m.local.Close()
	m.local = nil
	return err
}

var _ Provider = (*StaticProvider)(nil)

// StaticProvider serves fixed handles.
type StaticProvider struct {
	mu          sync.RWMutex
	LocalStore  Store
	RemoteStore Store
}

func NewStaticProvider(local, remote Store) *StaticProvider {
	return &StaticProvider{LocalStore: local, RemoteStore: remote}
}

func (s *StaticProvider) Local() (Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.LocalStore == nil {
		return nil, ErrNoLocal
	}
	return s.LocalStore, nil
}

func (s *StaticProvider) Remote() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.RemoteStore == nil {
		return nil
	}
	return s.RemoteStore
}

func (s *StaticProvider) Name() string {
	local, err := s.Local()
	if err != nil {
		return ""
	}
	return local.Name()
}

// SetRemote swaps the remote handle.
func (s *StaticProvider) SetRemote(remote Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemoteStore = remote
}
