package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPreview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "empty",
			content: "",
			want:    "",
		},
		{
			name:    "paragraphs",
			content: "<p>The rain   fell.</p><p>She waited.</p>",
			want:    "The rain fell.\nShe waited.",
		},
		{
			name:    "beat markers removed",
			content: "<p>Before</p><!-- beat-ai-start --><p>generated</p><!-- beat-ai-end --><p>After</p>",
			want:    "Before\nAfter",
		},
		{
			name:    "beat nodes removed",
			content: `<p>Keep</p><beat-ai-node data-id="1">prompt text</beat-ai-node><div data-beat-ai="x">more</div>`,
			want:    "Keep",
		},
		{
			name:    "entities decoded",
			content: "<p>Tom &amp; Jerry</p>",
			want:    "Tom & Jerry",
		},
		{
			name:    "five lines at most",
			content: "<p>1</p><p>2</p><p>3</p><p>4</p><p>5</p><p>6</p>",
			want:    "1\n2\n3\n4\n5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPreview(tt.content))
		})
	}
}

func TestExtractPreview_Truncates(t *testing.T) {
	preview := ExtractPreview("<p>" + strings.Repeat("é", 500) + "</p>")
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Equal(t, 203, len([]rune(preview)))
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{content: "", want: 0},
		{content: "<p>one two three</p>", want: 3},
		{content: "<p>one</p><p>two</p>", want: 2},
		{content: "<p>kept</p><!-- beat-ai-start -->not counted at all<!-- beat-ai-end -->", want: 1},
		{content: "  spaced\n\tout  ", want: 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CountWords(tt.content), tt.content)
	}
}
