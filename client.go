package storysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/server"
	"github.com/emrgen/storysync/internal/transfer"
)

// Client talks to a running storysync server.
type Client interface {
	io.Closer
	Status(ctx context.Context) (*server.StatusResponse, error)
	SwitchUser(ctx context.Context, userID string) (*server.StatusResponse, error)
	ListStories(ctx context.Context) ([]model.StoryMetadata, error)
	CreateStory(ctx context.Context, title string) (*model.Story, error)
	DeleteStory(ctx context.Context, id string) error
	Push(ctx context.Context) (*transfer.Result, error)
	Pull(ctx context.Context) (*transfer.Result, error)
	RebuildIndex(ctx context.Context, force bool) (*model.MetadataIndex, error)
	AuditLog(ctx context.Context, limit int) ([]*model.SyncAuditLog, error)
}

type client struct {
	base string
	http *http.Client
}

// NewClient connects to the server listening on port of localhost, or to
// the given base url.
func NewClient(addr string) (Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://localhost:" + strings.TrimPrefix(addr, ":")
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, err
	}
	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *client) Status(ctx context.Context) (*server.StatusResponse, error) {
	res := &server.StatusResponse{}
	return res, c.do(ctx, http.MethodGet, "/v1/status", nil, res)
}

func (c *client) SwitchUser(ctx context.Context, userID string) (*server.StatusResponse, error) {
	res := &server.StatusResponse{}
	return res, c.do(ctx, http.MethodPost, "/v1/session", map[string]string{"userId": userID}, res)
}

func (c *client) ListStories(ctx context.Context) ([]model.StoryMetadata, error) {
	var res []model.StoryMetadata
	return res, c.do(ctx, http.MethodGet, "/v1/stories", nil, &res)
}

func (c *client) CreateStory(ctx context.Context, title string) (*model.Story, error) {
	res := &model.Story{}
	return res, c.do(ctx, http.MethodPost, "/v1/stories", map[string]string{"title": title}, res)
}

func (c *client) DeleteStory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/stories/"+url.PathEscape(id), nil, nil)
}

func (c *client) Push(ctx context.Context) (*transfer.Result, error) {
	res := &transfer.Result{}
	return res, c.do(ctx, http.MethodPost, "/v1/sync/push", nil, res)
}

func (c *client) Pull(ctx context.Context) (*transfer.Result, error) {
	res := &transfer.Result{}
	return res, c.do(ctx, http.MethodPost, "/v1/sync/pull", nil, res)
}

func (c *client) RebuildIndex(ctx context.Context, force bool) (*model.MetadataIndex, error) {
	res := &model.MetadataIndex{}
	path := fmt.Sprintf("/v1/index/rebuild?force=%t", force)
	return res, c.do(ctx, http.MethodPost, path, nil, res)
}

func (c *client) AuditLog(ctx context.Context, limit int) ([]*model.SyncAuditLog, error) {
	var res []*model.SyncAuditLog
	return res, c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/audit?limit=%d", limit), nil, &res)
}

// APIError is a non-2xx answer of the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: res.StatusCode, Message: res.Status}
		var msg struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(res.Body).Decode(&msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return apiErr
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
