package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/emrgen/storysync/internal/app"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/replication"
	"github.com/emrgen/storysync/internal/story"
	"github.com/emrgen/storysync/internal/store"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
)

type handlers struct {
	app *app.App
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Status      replication.Status `json:"status"`
	State       replication.State  `json:"state"`
	Paused      int                `json:"paused"`
	ActiveStory string             `json:"activeStory,omitempty"`
	Database    string             `json:"database"`
	User        string             `json:"user,omitempty"`
}

type createStoryRequest struct {
	Title string `json:"title"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

type sessionRequest struct {
	UserID string `json:"userId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      h.app.Sync.Status(),
		State:       h.app.Sync.State(),
		Paused:      h.app.Sync.Paused(),
		ActiveStory: h.app.Sync.Config().ActiveStoryID,
		Database:    h.app.Stores.Name(),
		User:        h.app.User(),
	})
}

// statusStream sends every status change as a server-sent event.
func (h *handlers) statusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates, unsubscribe := h.app.Sync.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(s)
			if err != nil {
				logrus.Errorf("error encoding status: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *handlers) switchUser(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.app.SwitchUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	h.status(w, r)
}

func (h *handlers) listStories(w http.ResponseWriter, r *http.Request) {
	stories, err := h.app.Stories.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

func (h *handlers) createStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if !readJSON(w, r, &req) {
		return
	}
	created, err := h.app.Stories.Create(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) openStory(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.OpenStory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) updateStory(w http.ResponseWriter, r *http.Request) {
	s := &model.Story{}
	if !readJSON(w, r, s) {
		return
	}
	s.ID = chi.URLParam(r, "id")
	if s.StoryID == "" {
		s.StoryID = s.ID
	}
	if err := h.app.Stories.Update(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) deleteStory(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Stories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) closeStory(w http.ResponseWriter, r *http.Request) {
	h.app.CloseStory()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reorderStories(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.app.Stories.Reorder(r.Context(), req.IDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Connect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.status(w, r)
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	h.app.Sync.Disconnect()
	h.status(w, r)
}

func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	h.app.Sync.Pause()
	h.status(w, r)
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.app.Sync.Resume()
	h.status(w, r)
}

func (h *handlers) push(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Transfer.Push(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) pull(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Transfer.Pull(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.app.Index.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	idx, err := h.app.Index.Rebuild(r.Context(), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (h *handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	entries, err := h.app.Audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		logrus.Errorf("request failed: %v", err)
	}
	writeJSON(w, code, errorResponse{Error: store.UserMessage(err)})
}

// statusCode maps store error kinds to HTTP status codes.
func statusCode(err error) int {
	var verr validation.Errors
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, story.ErrNotStory):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNoRemote):
		return http.StatusPreconditionFailed
	case errors.Is(err, store.ErrNoLocal):
		return http.StatusServiceUnavailable
	}

	switch store.KindOf(err) {
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindConflict:
		return http.StatusConflict
	case store.KindUnauthorized:
		return http.StatusUnauthorized
	case store.KindTimeout:
		return http.StatusGatewayTimeout
	case store.KindUnreachable, store.KindMalformed:
		return http.StatusBadGateway
	case store.KindClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
