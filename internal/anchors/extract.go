package anchors

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	atxHeadingLine    = regexp.MustCompile(`^ {0,3}#{1,6}(\s|$)`)
	setextUnderline   = regexp.MustCompile(`^ {0,3}(=+|-+)[ \t]*$`)
	markdownParserGFM = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// Extract parses markdown and returns its anchors in document order.
// Headings and paragraphs are collected at any depth, including inside
// block quotes and list items; tight list items count as paragraphs.
func Extract(markdown string) []Anchor {
	if markdown == "" {
		return []Anchor{}
	}

	source := []byte(markdown)
	document := markdownParserGFM.Parser().Parse(text.NewReader(maskFrontMatter(source)))
	walker := &collector{view: newLineView(source), source: source, extracted: make([]Anchor, 0), nextID: 1}

	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || node.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}

		return walker.visit(node), nil
	})

	return walker.extracted
}

// collector assigns anchor ids while the block tree is walked in order.
type collector struct {
	view      *lineView
	source    []byte
	extracted []Anchor
	nextID    int
	cursor    int
}

func (c *collector) visit(node ast.Node) ast.WalkStatus {
	switch block := node.(type) {
	case *ast.Heading:
		start, end := c.view.headingSpan(block, c.cursor)
		c.emit(Anchor{
			Kind:      KindHeading,
			Level:     block.Level,
			Text:      strings.TrimSpace(inlineText(block, c.source)),
			StartLine: start,
			EndLine:   end,
		})
		c.cursor = max(c.cursor, end)

		return ast.WalkSkipChildren
	case *ast.Paragraph, *ast.TextBlock:
		start, end, ok := c.view.blockSpan(block)
		if ok {
			c.cursor = max(c.cursor, end)
		}

		paragraph := strings.TrimSpace(inlineText(block, c.source))
		if len(strings.Fields(paragraph)) < MinParagraphWords || strings.Contains(c.view.raw(start, end), ImageMarker) {
			return ast.WalkSkipChildren
		}

		c.emit(Anchor{
			Kind:      KindParagraph,
			Text:      truncateRunes(paragraph, MaxParagraphRunes),
			StartLine: start,
			EndLine:   end,
		})

		return ast.WalkSkipChildren
	default:
		if _, end, ok := c.view.blockSpan(block); ok {
			c.cursor = max(c.cursor, end)
		}

		return ast.WalkContinue
	}
}

func (c *collector) emit(anchor Anchor) {
	anchor.AnchorID = FormatID(c.nextID)
	c.nextID++
	c.extracted = append(c.extracted, anchor)
}

// maskFrontMatter blanks a leading front matter block so its delimiters are
// not parsed as thematic breaks or setext headings. Offsets are unchanged.
func maskFrontMatter(source []byte) []byte {
	var meta map[string]any

	body, err := frontmatter.Parse(bytes.NewReader(source), &meta)
	if err != nil || len(body) >= len(source) || !bytes.HasSuffix(source, body) {
		return source
	}

	masked := bytes.Clone(source)
	for offset := range len(source) - len(body) {
		if masked[offset] != '\n' {
			masked[offset] = ' '
		}
	}

	return masked
}

// inlineText flattens the inline children of a block into plain text.
func inlineText(node ast.Node, source []byte) string {
	var builder strings.Builder

	_ = ast.Walk(node, func(current ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch inline := current.(type) {
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			builder.Write(inline.Label(source))

			return ast.WalkSkipChildren, nil
		case *ast.String:
			builder.Write(inline.Value)
		case *ast.Text:
			builder.Write(inline.Segment.Value(source))

			if inline.SoftLineBreak() || inline.HardLineBreak() {
				builder.WriteByte('\n')
			}
		}

		return ast.WalkContinue, nil
	})

	return builder.String()
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}

	return string(runes[:limit])
}

// lineView resolves byte offsets into zero-based line numbers.
type lineView struct {
	source     []byte
	lineStarts []int
}

func newLineView(source []byte) *lineView {
	starts := []int{0}

	for offset, character := range source {
		if character == '\n' && offset+1 < len(source) {
			starts = append(starts, offset+1)
		}
	}

	return &lineView{source: source, lineStarts: starts}
}

func (v *lineView) lineOf(offset int) int {
	return sort.Search(len(v.lineStarts), func(i int) bool {
		return v.lineStarts[i] > offset
	}) - 1
}

func (v *lineView) line(index int) string {
	if index < 0 || index >= len(v.lineStarts) {
		return ""
	}

	start := v.lineStarts[index]
	stop := len(v.source)

	if index+1 < len(v.lineStarts) {
		stop = v.lineStarts[index+1]
	}

	return strings.TrimRight(string(v.source[start:stop]), "\r\n")
}

func (v *lineView) raw(start, end int) string {
	lines := make([]string, 0, end-start)
	for index := start; index < end; index++ {
		lines = append(lines, v.line(index))
	}

	return strings.Join(lines, "\n")
}

// blockSpan returns the line range covered by a block's source segments.
func (v *lineView) blockSpan(node ast.Node) (int, int, bool) {
	segments := node.Lines()
	if segments == nil || segments.Len() == 0 {
		return 0, 0, false
	}

	first := v.lineOf(segments.At(0).Start)
	last := v.lineOf(segments.At(segments.Len() - 1).Start)

	return first, last + 1, true
}

// headingSpan covers ATX headings, setext headings including their
// underline, and empty ATX headings that carry no source segments.
func (v *lineView) headingSpan(node *ast.Heading, cursor int) (int, int) {
	start, end, ok := v.blockSpan(node)
	if !ok {
		for index := cursor; index < len(v.lineStarts); index++ {
			if atxHeadingLine.MatchString(v.line(index)) {
				return index, index + 1
			}
		}

		return 0, 0
	}

	if !atxHeadingLine.MatchString(v.line(start)) && setextUnderline.MatchString(v.line(end)) {
		end++
	}

	return start, end
}
