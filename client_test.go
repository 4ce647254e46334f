package storysync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/app"
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	a := app.NewWithDeps(&config.Config{
		Env:                 "test",
		SyncTimeout:         time.Second,
		TransferTimeout:     time.Second,
		BootstrapTimeout:    time.Second,
		BootstrapIdle:       100 * time.Millisecond,
		IndexRepairSchedule: "@every 1h",
	}, app.Deps{})
	defer a.Close()

	srv := httptest.NewServer(server.NewServer(a, "0").Handler())
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	status, err := c.SwitchUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "storysync-carol", status.Database)

	created, err := c.CreateStory(ctx, "Client story")
	require.NoError(t, err)
	_, err = a.FlushIndex(ctx)
	require.NoError(t, err)

	list, err := c.ListStories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	_, err = c.Pull(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.StatusCode)

	require.NoError(t, c.DeleteStory(ctx, created.ID))
	_, err = a.FlushIndex(ctx)
	require.NoError(t, err)

	list, err = c.ListStories(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	entries, err := c.AuditLog(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
