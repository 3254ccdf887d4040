// Package textnorm normalizes free text produced by language models before it
// is written into Markdown, where stray newlines or brackets break the markup.
package textnorm

import (
	"regexp"
	"strings"
)

// Cleaner normalizes model-produced strings such as alt text and captions.
type Cleaner struct {
	reWhitespaceRun *regexp.Regexp
	reControl       *regexp.Regexp
	charReplacer    *strings.Replacer
	altEscaper      *strings.Replacer
}

// NewCleaner creates a cleaner with all regular expressions precompiled.
func NewCleaner() *Cleaner {
	return &Cleaner{
		reWhitespaceRun: regexp.MustCompile(`\s+`),
		reControl:       regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`),
		charReplacer: strings.NewReplacer(
			"ﬁ", "fi",
			"ﬂ", "fl",
			"ﬀ", "ff",
			"ﬃ", "ffi",
			"ﬄ", "ffl",
			"\r", "",
		),
		altEscaper: strings.NewReplacer(
			"[", `\[`,
			"]", `\]`,
		),
	}
}

// SingleLine collapses every whitespace run, newlines included, into one
// space and trims the result.
func (c *Cleaner) SingleLine(input string) string {
	if input == "" {
		return input
	}

	text := c.charReplacer.Replace(input)
	text = c.reControl.ReplaceAllString(text, "")
	text = c.reWhitespaceRun.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// AltText returns a single-line string safe to place inside `![...]`.
func (c *Cleaner) AltText(input string) string {
	return c.altEscaper.Replace(c.SingleLine(input))
}

// Caption returns a single-line string safe to wrap in `*...*`.
func (c *Cleaner) Caption(input string) string {
	return strings.Trim(c.SingleLine(input), "*_ ")
}
