// Package web renders assistant replies for display.
package web

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/docanalyst/internal/application"
)

var (
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	htmlSanitizer = bluemonday.UGCPolicy()
)

// RenderReply converts an assistant reply to sanitized HTML. Fenced tables are
// aligned first so they read as a grid inside the rendered <pre> block.
// Returns empty string for empty input.
func RenderReply(text string) string {
	if text == "" {
		return ""
	}
	return RenderMarkdown(application.AlignTables(text))
}

// RenderMarkdown converts a markdown string to sanitized HTML. If conversion
// fails the escaped source is returned.
func RenderMarkdown(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		return htmlSanitizer.Sanitize(src)
	}

	return htmlSanitizer.Sanitize(buf.String())
}
