package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDocument(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind Kind
		typ  string
	}{
		{name: "index", json: `{"_id":"story-metadata-index","stories":[]}`, kind: KindIndex},
		{name: "story", json: `{"_id":"s1","title":"One","chapters":[]}`, kind: KindStory},
		{name: "typed with chapters", json: `{"_id":"snap","type":"story-snapshot","chapters":[]}`, kind: KindTyped, typ: TypeStorySnapshot},
		{name: "codex", json: `{"_id":"c1","type":"codex","storyId":"s1"}`, kind: KindTyped, typ: TypeCodex},
		{name: "chapters not an array", json: `{"_id":"x","chapters":"none"}`, kind: KindUntyped},
		{name: "side document", json: `{"_id":"scene-chat_s1_1","messages":[]}`, kind: KindUntyped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &Document{}
			require.NoError(t, json.Unmarshal([]byte(tt.json), doc))

			class := ClassifyDocument(doc)
			assert.Equal(t, tt.kind, class.Kind)
			assert.Equal(t, tt.typ, class.Type)
			assert.Equal(t, tt.kind == KindStory, IsStory(doc))
		})
	}

	assert.Equal(t, KindUntyped, ClassifyDocument(nil).Kind)
	assert.True(t, Class{Kind: KindStory}.Untyped())
	assert.False(t, Class{Kind: KindTyped, Type: TypeCodex}.Untyped())
}
