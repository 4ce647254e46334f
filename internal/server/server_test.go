package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/app"
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	a := app.NewWithDeps(&config.Config{
		Env:                 "test",
		SyncTimeout:         time.Second,
		TransferTimeout:     time.Second,
		BootstrapTimeout:    time.Second,
		BootstrapIdle:       100 * time.Millisecond,
		IndexRepairSchedule: "@every 1h",
		DeviceID:            "dev-1",
		DeviceName:          "Laptop",
	}, app.Deps{})
	require.NoError(t, a.SwitchUser(context.Background(), "alice"))

	srv := httptest.NewServer(NewServer(a, "0").Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return srv, a
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func TestServer_StoryLifecycle(t *testing.T) {
	srv, a := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/v1/stories", createStoryRequest{Title: "The Lighthouse"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := &model.Story{}
	decode(t, res, created)
	assert.NotEmpty(t, created.ID)

	_, err := a.FlushIndex(context.Background())
	require.NoError(t, err)

	res = do(t, http.MethodGet, srv.URL+"/v1/stories", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []model.StoryMetadata
	decode(t, res, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "The Lighthouse", list[0].Title)

	res = do(t, http.MethodGet, srv.URL+"/v1/stories/"+created.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	opened := &model.Story{}
	decode(t, res, opened)
	assert.Equal(t, created.Rev, opened.Rev)

	res = do(t, http.MethodGet, srv.URL+"/v1/status", nil)
	status := StatusResponse{}
	decode(t, res, &status)
	assert.Equal(t, created.ID, status.ActiveStory)
	assert.Equal(t, "storysync-alice", status.Database)

	opened.Title = "Renamed"
	res = do(t, http.MethodPut, srv.URL+"/v1/stories/"+created.ID, opened)
	require.Equal(t, http.StatusOK, res.StatusCode)

	// the stale revision conflicts
	res = do(t, http.MethodPut, srv.URL+"/v1/stories/"+created.ID, created)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = do(t, http.MethodDelete, srv.URL+"/v1/stories/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = do(t, http.MethodGet, srv.URL+"/v1/stories/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServer_SyncWithoutRemote(t *testing.T) {
	srv, _ := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/v1/sync/push", nil)
	assert.Equal(t, http.StatusPreconditionFailed, res.StatusCode)
	body := errorResponse{}
	decode(t, res, &body)
	assert.Equal(t, store.ErrNoRemote.Error(), body.Error)

	res = do(t, http.MethodPost, srv.URL+"/v1/sync/pause", nil)
	status := StatusResponse{}
	decode(t, res, &status)
	assert.Equal(t, 1, status.Paused)

	res = do(t, http.MethodPost, srv.URL+"/v1/sync/resume", nil)
	decode(t, res, &status)
	assert.Equal(t, 0, status.Paused)
}

func TestServer_SwitchUserAndRebuild(t *testing.T) {
	srv, _ := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/v1/session", sessionRequest{UserID: "bob"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	status := StatusResponse{}
	decode(t, res, &status)
	assert.Equal(t, "storysync-bob", status.Database)
	assert.Equal(t, "bob", status.User)

	res = do(t, http.MethodPost, srv.URL+"/v1/index/rebuild?force=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	idx := model.MetadataIndex{}
	decode(t, res, &idx)
	assert.Equal(t, model.MetadataIndexID, idx.ID)
	assert.NotEmpty(t, idx.Rev)
}

func TestServer_StatusStream(t *testing.T) {
	srv, a := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/status/stream", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	reader := bufio.NewReader(res.Body)
	next := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			}
		}
	}

	assert.Contains(t, next(), `"isOnline":false`)

	a.Sync.Pause()
	a.Sync.Disconnect()
	assert.Contains(t, next(), `"isSync":false`)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: store.NewError(store.KindNotFound, "get", store.ErrNotFound), want: http.StatusNotFound},
		{err: store.NewError(store.KindConflict, "put", store.ErrConflict), want: http.StatusConflict},
		{err: store.NewError(store.KindUnauthorized, "info", nil), want: http.StatusUnauthorized},
		{err: store.NewError(store.KindTimeout, "pull", store.ErrTimeout), want: http.StatusGatewayTimeout},
		{err: store.NewError(store.KindUnreachable, "info", nil), want: http.StatusBadGateway},
		{err: store.ErrNoRemote, want: http.StatusPreconditionFailed},
		{err: validation.Errors{"title": validation.ErrLengthOutOfRange}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.err), tt.err.Error())
	}
}
