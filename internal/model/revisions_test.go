package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisions_Extend(t *testing.T) {
	first := (*Revisions)(nil).Extend("1-a")
	require.NotNil(t, first)
	assert.Equal(t, "1-a", first.Head())

	second := first.Extend("2-b")
	third := second.Extend("3-c")
	assert.Equal(t, []string{"3-c", "2-b", "1-a"}, third.Revs())
	assert.True(t, third.Contains("2-b"))
	assert.False(t, third.Contains("2-x"))
	assert.False(t, third.Contains("4-c"))

	// a parent of another generation is not an ancestor
	orphan := first.Extend("5-e")
	assert.Equal(t, []string{"5-e"}, orphan.Revs())

	assert.Nil(t, first.Extend("bad"))
}

func TestDocument_RevisionsJSON(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"s","_rev":"2-b","title":"T","_revisions":{"start":2,"ids":["b","a"]}}`), &doc))
	require.NotNil(t, doc.Revisions)
	assert.Equal(t, []string{"2-b", "1-a"}, doc.Revisions.Revs())
	assert.False(t, doc.Has("_revisions"))

	clone := doc.Clone()
	clone.Revisions.IDs[0] = "z"
	assert.Equal(t, "b", doc.Revisions.IDs[0])

	data, err := json.Marshal(&doc)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, map[string]any{"start": float64(2), "ids": []any{"b", "a"}}, out["_revisions"])

	// revisions without ids carry nothing
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"s","_rev":"2-b","_revisions":{"start":2}}`), &doc))
	assert.Nil(t, doc.Revisions)
}
