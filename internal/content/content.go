package content

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for message text, notification titles and display names.
func Sanitize(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// RenderMarkdown converts message text to sanitized HTML for display.
// Rendering failures fall back to the escaped plain text so a bad
// message never renders raw.
func RenderMarkdown(input string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return strict.Sanitize(input)
	}
	return policy.Sanitize(buf.String())
}
