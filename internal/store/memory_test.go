package store

import (
	"context"
	"strings"
	"testing"

	"github.com/emrgen/storysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func story(id string) *model.Document {
	return &model.Document{
		ID:     id,
		Fields: map[string]any{"title": id, "chapters": []any{}},
	}
}

func TestMemoryStore_PutRevisions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	rev1, err := s.Put(ctx, story("a"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rev1, "1-"))

	_, err = s.Put(ctx, story("a"))
	assert.True(t, IsConflict(err), "put without revision over existing doc")

	stale := story("a")
	stale.Rev = "1-deadbeef"
	_, err = s.Put(ctx, stale)
	assert.True(t, IsConflict(err), "put with stale revision")

	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	doc.Fields["title"] = "changed"
	rev2, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, RevGeneration(rev2))

	require.NoError(t, s.Remove(ctx, "a", rev2))
	_, err = s.Get(ctx, "a")
	assert.True(t, IsNotFound(err))

	err = s.Remove(ctx, "a", rev2)
	assert.Error(t, err)

	rev4, err := s.Put(ctx, story("a"))
	require.NoError(t, err)
	assert.Equal(t, 4, RevGeneration(rev4))
}

func TestMemoryStore_RemoveMissing(t *testing.T) {
	s := NewMemoryStore("test")
	err := s.Remove(context.Background(), "missing", "")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_BulkDocsReplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	rev, err := s.Put(ctx, story("a"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		rev     string
		written bool
		stored  string
	}{
		{name: "identical revision is skipped", rev: rev, written: false, stored: rev},
		{name: "lower generation loses", rev: "0-ffff", written: false, stored: rev},
		{name: "higher generation wins", rev: "5-0000", written: true, stored: "5-0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := story("a")
			doc.Rev = tt.rev
			results, err := s.BulkDocs(ctx, []*model.Document{doc}, BulkOptions{Replicate: true})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.written, results[0].Written)
			assert.NoError(t, results[0].Err)

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, tt.stored, got.Rev)
		})
	}
}

func TestMemoryStore_BulkDocsInteractiveConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	_, err := s.Put(ctx, story("a"))
	require.NoError(t, err)

	results, err := s.BulkDocs(ctx, []*model.Document{story("a"), story("b")}, BulkOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, IsConflict(results[0].Err))
	assert.True(t, results[1].Written)
	assert.Equal(t, 1, Written(results))
}

func TestMemoryStore_Changes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	revA, err := s.Put(ctx, story("a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, story("b"))
	require.NoError(t, err)
	_, err = s.Put(ctx, story("c"))
	require.NoError(t, err)

	// rewriting a moves it to the end of the feed
	doc := story("a")
	doc.Rev = revA
	_, err = s.Put(ctx, doc)
	require.NoError(t, err)

	all, err := s.Changes(ctx, ChangesRequest{})
	require.NoError(t, err)
	ids := make([]string, 0)
	for _, c := range all.Results {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
	assert.Equal(t, "4", all.LastSeq)
	assert.Equal(t, 0, all.Pending)

	page, err := s.Changes(ctx, ChangesRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, 1, page.Pending)

	rest, err := s.Changes(ctx, ChangesRequest{Since: page.LastSeq})
	require.NoError(t, err)
	require.Len(t, rest.Results, 1)
	assert.Equal(t, "a", rest.Results[0].ID)

	none, err := s.Changes(ctx, ChangesRequest{Since: rest.LastSeq})
	require.NoError(t, err)
	assert.Empty(t, none.Results)
	assert.Equal(t, rest.LastSeq, none.LastSeq)
}

func TestMemoryStore_Find(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	_, err := s.Put(ctx, story("s1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, &model.Document{ID: "c1", Fields: map[string]any{"type": model.TypeCodex, "storyId": "s1"}})
	require.NoError(t, err)
	_, err = s.Put(ctx, &model.Document{ID: "c2", Fields: map[string]any{"type": model.TypeCodex, "storyId": "s2"}})
	require.NoError(t, err)
	_, err = s.Put(ctx, &model.Document{ID: "note", Fields: map[string]any{"text": "x"}})
	require.NoError(t, err)

	stories, err := s.Find(ctx, Selector{StoriesOnly: true})
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "s1", stories[0].ID)

	codex, err := s.Find(ctx, Selector{Type: model.TypeCodex, StoryID: "s1"})
	require.NoError(t, err)
	require.Len(t, codex, 1)
	assert.Equal(t, "c1", codex[0].ID)

	limited, err := s.Find(ctx, Selector{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore("test")
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "a")
	assert.Equal(t, KindClosed, KindOf(err))
	_, err = s.Put(context.Background(), story("a"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRevWins(t *testing.T) {
	assert.True(t, RevWins("2-a", "1-z"))
	assert.False(t, RevWins("1-z", "2-a"))
	assert.True(t, RevWins("2-b", "2-a"))
	assert.False(t, RevWins("2-a", "2-a"))
	assert.Equal(t, 0, RevGeneration("garbage"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		message string
	}{
		{name: "typed", err: NewError(KindUnauthorized, "info", nil), kind: KindUnauthorized, message: "authentication failed"},
		{name: "sentinel", err: ErrTimeout, kind: KindTimeout, message: "connection timed out"},
		{name: "deadline", err: context.DeadlineExceeded, kind: KindTimeout, message: "connection timed out"},
		{name: "conflict text", err: assertErr("Document update conflict"), kind: KindConflict, message: "document update conflict"},
		{name: "malformed", err: NewError(KindMalformed, "get", assertErr("invalid character '<'")), kind: KindMalformed, message: "server returned invalid response"},
		{name: "unknown", err: assertErr("boom"), kind: KindUnknown, message: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.message, UserMessage(tt.err))
		})
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestMemoryStore_ReplicatedAncestry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")

	rev, err := s.Put(ctx, story("a"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{rev}, got.Revisions.Revs())

	tests := []struct {
		name      string
		doc       *model.Document
		revisions []string
	}{
		{
			name:      "ancestry is kept",
			doc:       &model.Document{ID: "b", Rev: "2-bb", Revisions: &model.Revisions{Start: 2, IDs: []string{"bb", "b1"}}},
			revisions: []string{"2-bb", "1-b1"},
		},
		{
			name:      "mismatched ancestry falls back to the revision",
			doc:       &model.Document{ID: "c", Rev: "3-cc", Revisions: &model.Revisions{Start: 2, IDs: []string{"c2"}}},
			revisions: []string{"3-cc"},
		},
		{
			name:      "tombstone descending from the stored revision",
			doc:       &model.Document{ID: "a", Rev: "2-dd", Deleted: true, Revisions: (*model.Revisions)(nil).Extend(rev).Extend("2-dd")},
			revisions: []string{"2-dd", rev},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.BulkDocs(ctx, []*model.Document{tt.doc}, BulkOptions{Replicate: true})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.True(t, results[0].Written)

			feed, err := s.Changes(ctx, ChangesRequest{})
			require.NoError(t, err)
			for _, change := range feed.Results {
				if change.ID == tt.doc.ID {
					assert.Equal(t, tt.revisions, change.Doc.Revisions.Revs())
				}
			}
		})
	}
}
