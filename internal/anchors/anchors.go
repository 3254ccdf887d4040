// Package anchors turns a Markdown document into an ordered list of
// addressable insertion points: headings and substantial paragraphs.
package anchors

import (
	"fmt"
)

// Kind identifies the block type an anchor was built from.
type Kind string

const (
	// KindHeading marks an anchor built from an ATX or setext heading.
	KindHeading Kind = "heading"
	// KindParagraph marks an anchor built from a paragraph at any depth.
	KindParagraph Kind = "paragraph"
)

const (
	// MinParagraphWords is the smallest paragraph that becomes an anchor.
	MinParagraphWords = 5
	// MaxParagraphRunes bounds the excerpt kept for paragraph anchors.
	MaxParagraphRunes = 220
	// ImageMarker tags image blocks written by the rewriter.
	ImageMarker = "ai-image anchor:"
)

// Anchor is an addressable point in the original, unmodified document.
// StartLine and EndLine are zero-based; EndLine is exclusive.
type Anchor struct {
	AnchorID  string `json:"anchor_id"`
	Kind      Kind   `json:"kind"`
	Level     int    `json:"level,omitempty"`
	Text      string `json:"text"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// IsHeading reports whether the anchor came from a heading.
func (a Anchor) IsHeading() bool {
	return a.Kind == KindHeading
}

// FormatID renders the n-th anchor identifier of an extraction pass.
func FormatID(n int) string {
	return fmt.Sprintf("a%d", n)
}

// Index maps anchor identifiers to anchors.
func Index(list []Anchor) map[string]Anchor {
	byID := make(map[string]Anchor, len(list))
	for _, anchor := range list {
		byID[anchor.AnchorID] = anchor
	}

	return byID
}
