package model

import "strings"

// ContentSegment is one part of a structured message body.
type ContentSegment struct {
	Type string // "text", "image_file", ...
	Text string
}

type contentKind int

const (
	contentPlain contentKind = iota
	contentSegments
)

// MessageContent is either a flat string or a list of content segments,
// depending on how the remote service shaped the response.
type MessageContent struct {
	kind     contentKind
	plain    string
	segments []ContentSegment
}

// PlainText wraps a flat string body.
func PlainText(s string) MessageContent {
	return MessageContent{kind: contentPlain, plain: s}
}

// Segments wraps a structured body.
func Segments(segs ...ContentSegment) MessageContent {
	return MessageContent{kind: contentSegments, segments: segs}
}

// IsSegmented reports whether the content was delivered as segments.
func (c MessageContent) IsSegmented() bool {
	return c.kind == contentSegments
}

// Text normalizes the content to plain text. Text segments are joined with a
// newline; non-text segments are dropped.
func (c MessageContent) Text() string {
	if c.kind == contentPlain {
		return c.plain
	}

	parts := make([]string, 0, len(c.segments))
	for _, seg := range c.segments {
		if seg.Type != "" && seg.Type != "text" {
			continue
		}
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, "\n")
}

// Message is one entry of a remote conversation.
type Message struct {
	ID      string
	Role    Role
	Content MessageContent
}
