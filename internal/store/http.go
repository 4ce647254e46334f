package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/emrgen/storysync/internal/model"
	kivik "github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
	"github.com/sirupsen/logrus"
)

const findPageSize = 1000

var _ Store = (*HTTPStore)(nil)

// Credentials authenticate against the remote database.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == ""
}

// HTTPStore talks to a CouchDB-compatible database through kivik.
type HTTPStore struct {
	url    string
	name   string
	creds  Credentials
	client *kivik.Client
	db     *kivik.DB

	mu     sync.Mutex
	closed bool
}

// NewHTTPStore creates a client for the database at rawURL. Credentials
// embedded in the URL are used when creds is empty.
func NewHTTPStore(rawURL string, creds Credentials, client *http.Client) (*HTTPStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url scheme: %q", u.Scheme)
	}

	if u.User != nil {
		if creds.empty() {
			password, _ := u.User.Password()
			creds = Credentials{Username: u.User.Username(), Password: password}
		}
		u.User = nil
	}

	path := strings.TrimRight(u.Path, "/")
	cut := strings.LastIndex(path, "/")
	name := path[cut+1:]
	if name == "" {
		return nil, errors.New("remote url has no database name")
	}
	u.Path = path
	u.RawQuery = ""
	dbURL := u.String()

	// the server may live under a proxy prefix such as /_db
	u.Path = path[:cut]
	server := u.String()

	options := make([]kivik.Option, 0, 2)
	if client != nil {
		options = append(options, couchdb.OptionHTTPClient(client))
	}
	if !creds.empty() {
		options = append(options, couchdb.BasicAuth(creds.Username, creds.Password))
	}

	c, err := kivik.New("couch", server, options...)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}

	return &HTTPStore{
		url:    dbURL,
		name:   name,
		creds:  creds,
		client: c,
		db:     c.DB(name),
	}, nil
}

func (h *HTTPStore) Name() string {
	return h.name
}

// URL returns the database url without credentials.
func (h *HTTPStore) URL() string {
	return h.url
}

func (h *HTTPStore) Info(ctx context.Context) (*Info, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, "info", ErrClosed)
	}

	stats, err := h.db.Stats(ctx)
	if err != nil {
		return nil, remoteError(ctx, "info", err)
	}

	return &Info{Name: stats.Name, DocCount: stats.DocCount, UpdateSeq: stats.UpdateSeq}, nil
}

// Get reads the winning revision of a document together with its ancestry.
func (h *HTTPStore) Get(ctx context.Context, id string) (*model.Document, error) {
	return h.get(ctx, "get "+id, id, kivik.Param("revs", true))
}

func (h *HTTPStore) get(ctx context.Context, op, id string, options ...kivik.Option) (*model.Document, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, op, ErrClosed)
	}

	doc := &model.Document{}
	if err := h.db.Get(ctx, id, options...).ScanDoc(doc); err != nil {
		return nil, remoteError(ctx, op, err)
	}
	return doc, nil
}

// Put writes a document interactively; the remote assigns the revision.
func (h *HTTPStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	op := "put " + doc.ID
	if h.isClosed() {
		return "", NewError(KindClosed, op, ErrClosed)
	}

	body := doc.Clone()
	body.Revisions = nil

	rev, err := h.db.Put(ctx, doc.ID, body)
	if err != nil {
		return "", remoteError(ctx, op, err)
	}
	return rev, nil
}

func (h *HTTPStore) Remove(ctx context.Context, id, rev string) error {
	op := "remove " + id
	if h.isClosed() {
		return NewError(KindClosed, op, ErrClosed)
	}

	if _, err := h.db.Delete(ctx, id, rev); err != nil {
		return remoteError(ctx, op, err)
	}
	return nil
}

type findQuery struct {
	Selector map[string]any `json:"selector"`
	Limit    int            `json:"limit"`
	Bookmark string         `json:"bookmark,omitempty"`
}

func (h *HTTPStore) Find(ctx context.Context, selector Selector) ([]*model.Document, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, "find", ErrClosed)
	}

	query := findQuery{Selector: mangoSelector(selector), Limit: findPageSize}
	if selector.Limit > 0 && selector.Limit < findPageSize {
		query.Limit = selector.Limit
	}

	docs := make([]*model.Document, 0)
	for {
		rows := h.db.Find(ctx, query)

		count := 0
		for rows.Next() {
			count++
			doc := &model.Document{}
			if err := rows.ScanDoc(doc); err != nil {
				_ = rows.Close()
				return nil, remoteError(ctx, "find", err)
			}
			if selector.Match(doc) {
				docs = append(docs, doc)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, remoteError(ctx, "find", err)
		}

		var bookmark string
		if meta, err := rows.Metadata(); err == nil {
			bookmark = meta.Bookmark
		}

		if selector.Limit > 0 && len(docs) >= selector.Limit {
			return docs[:selector.Limit], nil
		}
		if count < query.Limit || bookmark == "" || bookmark == query.Bookmark {
			return docs, nil
		}
		query.Bookmark = bookmark
	}
}

// mangoSelector translates a Selector into a CouchDB query selector.
func mangoSelector(s Selector) map[string]any {
	selector := make(map[string]any)
	if s.StoriesOnly {
		selector["type"] = map[string]any{"$exists": false}
		selector["chapters"] = map[string]any{"$type": "array"}
	}
	if s.Type != "" {
		selector["type"] = s.Type
	}
	if s.StoryID != "" {
		selector["storyId"] = s.StoryID
	}
	if len(selector) == 0 {
		selector["_id"] = map[string]any{"$gt": nil}
	}
	return selector
}

func (h *HTTPStore) AllDocs(ctx context.Context) ([]*model.Document, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, "all docs", ErrClosed)
	}

	rows := h.db.AllDocs(ctx, kivik.Param("include_docs", true))
	defer rows.Close()

	docs := make([]*model.Document, 0)
	for rows.Next() {
		id, err := rows.ID()
		if err != nil {
			return nil, remoteError(ctx, "all docs", err)
		}
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		doc := &model.Document{}
		if err := rows.ScanDoc(doc); err != nil {
			return nil, remoteError(ctx, "all docs", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteError(ctx, "all docs", err)
	}

	return docs, nil
}

// BulkDocs writes many documents. Replicated writes go out with
// new_edits=false and their _revisions, so the remote grafts each revision
// onto its existing branch instead of opening a conflicting one.
func (h *HTTPStore) BulkDocs(ctx context.Context, docs []*model.Document, opts BulkOptions) ([]BulkResult, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, "bulk docs", ErrClosed)
	}

	results := make([]BulkResult, 0, len(docs))
	if len(docs) == 0 {
		return results, nil
	}

	send := docs
	if opts.Replicate {
		missing, err := h.revsDiff(ctx, docs)
		if err != nil {
			return nil, err
		}
		send = make([]*model.Document, 0, len(docs))
		for _, doc := range docs {
			if missing[doc.ID+"@"+doc.Rev] {
				send = append(send, doc)
			}
		}
		if len(send) == 0 {
			for _, doc := range docs {
				results = append(results, BulkResult{ID: doc.ID, Rev: doc.Rev})
			}
			return results, nil
		}
	}

	body := make([]interface{}, 0, len(send))
	for _, doc := range send {
		if opts.Replicate {
			doc = doc.Clone()
			doc.Revisions = replicatedRevisions(doc)
		}
		body = append(body, doc)
	}

	var options []kivik.Option
	if opts.Replicate {
		options = append(options, kivik.Param("new_edits", false))
	}

	res, err := h.db.BulkDocs(ctx, body, options...)
	if err != nil {
		return nil, remoteError(ctx, "bulk docs", err)
	}

	// new_edits=false only reports failures
	failed := make(map[string]error)
	revs := make(map[string]string)
	for _, r := range res {
		if r.Error != nil {
			failed[r.ID] = r.Error
		} else {
			revs[r.ID] = r.Rev
		}
	}

	sent := make(map[string]bool, len(send))
	for _, doc := range send {
		sent[doc.ID+"@"+doc.Rev] = true
	}

	for _, doc := range docs {
		result := BulkResult{ID: doc.ID, Rev: doc.Rev}
		if rev, ok := revs[doc.ID]; ok && !opts.Replicate {
			result.Rev = rev
		}
		switch ferr, ok := failed[doc.ID]; {
		case ok:
			result.Err = remoteError(ctx, "bulk docs "+doc.ID, ferr)
		case sent[doc.ID+"@"+doc.Rev]:
			result.Written = true
		}
		results = append(results, result)
	}

	return results, nil
}

// revsDiff returns the id@rev pairs the remote does not have yet.
func (h *HTTPStore) revsDiff(ctx context.Context, docs []*model.Document) (map[string]bool, error) {
	req := make(map[string][]string, len(docs))
	for _, doc := range docs {
		req[doc.ID] = append(req[doc.ID], doc.Rev)
	}

	rows := h.db.RevsDiff(ctx, req)
	defer rows.Close()

	missing := make(map[string]bool)
	for rows.Next() {
		id, err := rows.ID()
		if err != nil {
			return nil, remoteError(ctx, "revs diff", err)
		}
		var diff kivik.RevDiff
		if err := rows.ScanValue(&diff); err != nil {
			return nil, remoteError(ctx, "revs diff", err)
		}
		for _, rev := range diff.Missing {
			missing[id+"@"+rev] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, remoteError(ctx, "revs diff", err)
	}

	return missing, nil
}

// Changes reads one page of the changes feed. The changed revisions are
// fetched with their ancestry; the feed itself does not carry it.
func (h *HTTPStore) Changes(ctx context.Context, req ChangesRequest) (*ChangesResult, error) {
	if h.isClosed() {
		return nil, NewError(KindClosed, "changes", ErrClosed)
	}

	params := map[string]interface{}{"style": "main_only"}
	if req.Since != "" {
		params["since"] = req.Since
	}
	if req.Limit > 0 {
		params["limit"] = req.Limit
	}

	feed := h.db.Changes(ctx, kivik.Params(params))
	defer feed.Close()

	result := &ChangesResult{
		Results: make([]Change, 0),
		LastSeq: req.Since,
		Pending: -1,
	}

	for feed.Next() {
		id := feed.ID()
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		change := Change{Seq: feed.Seq(), ID: id, Deleted: feed.Deleted()}
		if revs := feed.Changes(); len(revs) > 0 {
			change.Rev = revs[0]
		}
		result.Results = append(result.Results, change)
	}
	if err := feed.Err(); err != nil {
		return nil, remoteError(ctx, "changes", err)
	}

	if meta, err := feed.Metadata(); err == nil {
		if meta.LastSeq != "" {
			result.LastSeq = meta.LastSeq
		}
		result.Pending = int(meta.Pending)
	}

	for i := range result.Results {
		change := &result.Results[i]
		doc, err := h.get(ctx, "changes "+change.ID, change.ID, kivik.Params(map[string]interface{}{
			"rev":  change.Rev,
			"revs": true,
		}))
		switch {
		case err == nil:
			change.Doc = doc
		case IsNotFound(err):
			// compacted away since the feed was read
			change.Doc = &model.Document{ID: change.ID, Rev: change.Rev, Deleted: change.Deleted}
		default:
			return nil, err
		}
	}

	return result, nil
}

func (h *HTTPStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.client.Close()
}

func (h *HTTPStore) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// remoteError maps a kivik failure onto the store error taxonomy.
func remoteError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, op, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewError(KindMalformed, op, err)
	}

	status := kivik.HTTPStatus(err)
	logrus.Debugf("remote %s failed: status %d: %v", op, status, err)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(KindUnauthorized, op, err)
	case http.StatusNotFound:
		return NewError(KindNotFound, op, err)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return NewError(KindConflict, op, err)
	default:
		return NewError(KindUnreachable, op, err)
	}
}
