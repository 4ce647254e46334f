package index

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxPreviewRunes = 200
	maxPreviewLines = 5
	previewEllipsis = "..."
)

var (
	// generated beat blocks wrapped in marker comments
	aiCommentBlock = regexp.MustCompile(`(?s)<!--\s*beat-ai-start\s*-->.*?<!--\s*beat-ai-end\s*-->`)
	// editor widgets of the beat generator
	aiNode       = regexp.MustCompile(`(?s)<beat-ai-node\b[^>]*>.*?</beat-ai-node>`)
	aiNodeSingle = regexp.MustCompile(`<beat-ai-node\b[^>]*/>`)
	aiDiv        = regexp.MustCompile(`(?s)<div\b[^>]*\bdata-beat-ai[^>]*>.*?</div>`)
	htmlComment  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBreak   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|blockquote|pre)>`)
)

var textPolicy = bluemonday.StrictPolicy()

// PlainText strips generator artifacts and markup from scene HTML, keeping
// one line per block element.
func PlainText(content string) string {
	text := aiCommentBlock.ReplaceAllString(content, "")
	text = aiNode.ReplaceAllString(text, "")
	text = aiNodeSingle.ReplaceAllString(text, "")
	text = aiDiv.ReplaceAllString(text, "")
	text = htmlComment.ReplaceAllString(text, "")
	text = blockBreak.ReplaceAllString(text, "\n")
	text = textPolicy.Sanitize(text)
	return html.UnescapeString(text)
}

// ExtractPreview returns the first non-empty lines of the scene text with
// whitespace collapsed, capped with an ellipsis.
func ExtractPreview(content string) string {
	lines := make([]string, 0, maxPreviewLines)
	for _, line := range strings.Split(PlainText(content), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == maxPreviewLines {
			break
		}
	}

	preview := []rune(strings.Join(lines, "\n"))
	if len(preview) <= maxPreviewRunes {
		return string(preview)
	}

	return strings.TrimRightFunc(string(preview[:maxPreviewRunes]), unicode.IsSpace) + previewEllipsis
}

// CountWords counts whitespace separated words of scene HTML.
func CountWords(content string) int {
	words := strings.FieldsFunc(PlainText(content), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return len(words)
}
