package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown_EmptyInput(t *testing.T) {
	assert.Equal(t, "", RenderMarkdown(""))
	assert.Equal(t, "", RenderReply(""))
}

func TestRenderMarkdown_Bold(t *testing.T) {
	assert.Contains(t, RenderMarkdown("**Revenue up**"), "<strong>Revenue up</strong>")
}

func TestRenderMarkdown_SanitizesScript(t *testing.T) {
	result := RenderMarkdown(`<script>alert("xss")</script>`)
	assert.NotContains(t, result, "<script>")
}

func TestRenderMarkdown_SanitizesEventHandlers(t *testing.T) {
	result := RenderMarkdown(`<img src="x.png" onerror="alert(1)">`)
	assert.NotContains(t, result, "onerror")
}

func TestRenderMarkdown_GFMTable(t *testing.T) {
	result := RenderMarkdown("| a | b |\n|---|---|\n| 1 | 2 |")
	assert.Contains(t, result, "<table>")
	assert.Contains(t, result, "<td>1</td>")
}

func TestRenderReply_AlignsFencedTables(t *testing.T) {
	reply := "Summary\n\n```\n|Metric|2023|\n|---|---|\n|Net income|NA|\n```"

	result := RenderReply(reply)
	assert.Contains(t, result, "<pre><code>")
	assert.Contains(t, result, "| Metric     | 2023 |")
	assert.Contains(t, result, "| Net income | NA   |")
	assert.Contains(t, result, "<p>Summary</p>")
}

func TestRenderReply_EscapesTableContent(t *testing.T) {
	reply := "```\n|<b>x</b>|y|\n```"

	result := RenderReply(reply)
	assert.NotContains(t, result, "<b>x</b>")
	assert.Contains(t, result, "&lt;b&gt;x&lt;/b&gt;")
}
