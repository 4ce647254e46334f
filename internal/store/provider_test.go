package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		userID string
		want   string
	}{
		{userID: "", want: "storysync-anonymous"},
		{userID: "   ", want: "storysync-anonymous"},
		{userID: "Alice", want: "storysync-alice"},
		{userID: "alice@example.com", want: "storysync-alice-example-com"},
		{userID: "user_42", want: "storysync-user_42"},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			assert.Equal(t, tt.want, DatabaseName(tt.userID))
		})
	}
}

func TestManager_Open(t *testing.T) {
	opened := make([]*MemoryStore, 0)
	m := NewManager(func(ctx context.Context, name string) (Store, error) {
		s := NewMemoryStore(name)
		opened = append(opened, s)
		return s, nil
	}, nil)

	_, err := m.Local()
	assert.ErrorIs(t, err, ErrNoLocal)

	first, err := m.Open(context.Background(), "storysync-a")
	require.NoError(t, err)
	assert.Equal(t, "storysync-a", m.Name())

	_, err = m.Open(context.Background(), "storysync-b")
	require.NoError(t, err)
	assert.Equal(t, "storysync-b", m.Name())

	// the previous handle is closed
	_, err = first.Info(context.Background())
	assert.Equal(t, KindClosed, KindOf(err))
	assert.Len(t, opened, 2)

	require.NoError(t, m.Close())
	_, err = m.Local()
	assert.ErrorIs(t, err, ErrNoLocal)
}

func TestManager_ConnectRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storysync-a" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"db_name":"storysync-a","doc_count":0,"update_seq":"0"}`))
	}))
	defer srv.Close()

	m := NewManager(nil, srv.Client())
	assert.Nil(t, m.Remote())

	remote, err := m.ConnectRemote(context.Background(), srv.URL+"/storysync-a", Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "storysync-a", remote.Name())
	assert.Equal(t, remote, m.Remote())

	_, err = m.ConnectRemote(context.Background(), srv.URL+"/missing", Credentials{})
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Equal(t, remote, m.Remote(), "failed connection keeps the previous remote")

	m.DisconnectRemote()
	assert.Nil(t, m.Remote())
}

func TestManager_ConnectRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"db_name":"storysync-a"}`))
	}))
	defer srv.Close()
	defer close(release)

	m := NewManager(nil, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.ConnectRemote(ctx, srv.URL+"/storysync-a", Credentials{})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Nil(t, m.Remote(), "late connection is discarded")
}
