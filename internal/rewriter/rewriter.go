// Package rewriter splices image blocks into a Markdown document at anchor
// positions computed from the unmodified original.
package rewriter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/planner"
	"github.com/book-expert/blog-illustrator-service/internal/textnorm"
)

const maxFallbackAltRunes = 120

var (
	existingMarker = regexp.MustCompile(`<!-- ` + regexp.QuoteMeta(anchors.ImageMarker) + `(\S+) -->`)
	cleaner        = textnorm.NewCleaner()
)

// ResolvedPlacement is a placement whose image already exists on disk.
// ImagePath is relative to the document.
type ResolvedPlacement struct {
	AnchorID  string
	ImagePath string
	AltText   string
	Caption   string
	Position  planner.Position
}

type edit struct {
	index int
	block string
}

// Rewrite returns original with one image block per known placement.
// Placements for unknown anchors, and for anchors that already carry an
// image block in original, are dropped. Markers are matched by anchor id
// only, so ids must come from the same document the markers were written
// for: inserting a heading above an existing image shifts later ids, and an
// old marker then suppresses a placement meant for a different anchor.
// Inserted lines follow the document's line endings (CRLF or LF).
func Rewrite(original string, list []anchors.Anchor, placements []ResolvedPlacement) string {
	edits := planEdits(original, list, placements)
	if len(edits) == 0 {
		return original
	}

	lineEnd := ""
	if strings.Contains(original, "\r\n") {
		lineEnd = "\r"
	}

	lines := splitLines(original)
	grouped := make(map[int][]string, len(edits))

	for _, e := range edits {
		index := clamp(e.index, 0, len(lines))
		grouped[index] = append(grouped[index], e.block)
	}

	output := make([]string, 0, len(lines)+len(edits)*4)

	for index := 0; index <= len(lines); index++ {
		if blocks, ok := grouped[index]; ok {
			output = appendGroup(output, lines, index, blocks, lineEnd)
		}

		if index < len(lines) {
			output = append(output, lines[index])
		}
	}

	result := strings.Join(output, "\n")
	if strings.HasSuffix(original, "\n") {
		return result + "\n"
	}

	return strings.TrimSuffix(result, lineEnd)
}

// RenderBlock formats the Markdown for one image.
func RenderBlock(anchorID, imagePath, altText, caption string) string {
	block := fmt.Sprintf("![%s](%s) <!-- %s%s -->", altText, linkDestination(imagePath), anchors.ImageMarker, anchorID)
	if caption != "" {
		block += "\n*" + caption + "*"
	}

	return block
}

func planEdits(original string, list []anchors.Anchor, placements []ResolvedPlacement) []edit {
	if len(placements) == 0 {
		return nil
	}

	byID := anchors.Index(list)
	illustrated := existingAnchors(original)
	edits := make([]edit, 0, len(placements))

	for _, placement := range placements {
		anchor, ok := byID[placement.AnchorID]
		if !ok {
			continue
		}

		if _, done := illustrated[placement.AnchorID]; done {
			continue
		}

		index := anchor.EndLine
		if placement.Position == planner.PositionBefore {
			index = anchor.StartLine
		}

		altText := cleaner.AltText(placement.AltText)
		if altText == "" {
			altText = cleaner.AltText(truncateRunes(anchor.Text, maxFallbackAltRunes))
		}

		edits = append(edits, edit{
			index: index,
			block: RenderBlock(anchor.AnchorID, placement.ImagePath, altText, cleaner.Caption(placement.Caption)),
		})
	}

	return edits
}

// appendGroup writes blocks at index, separated from surrounding text by
// blank lines. lineEnd is "\r" for CRLF documents, where lines are split on
// "\n" and keep their carriage return.
func appendGroup(output, lines []string, index int, blocks []string, lineEnd string) []string {
	if lineEnd != "" && len(output) > 0 && !strings.HasSuffix(output[len(output)-1], lineEnd) {
		output[len(output)-1] += lineEnd
	}

	if index > 0 && !isBlank(lines[index-1]) {
		output = append(output, lineEnd)
	}

	for position, block := range blocks {
		if position > 0 {
			output = append(output, lineEnd)
		}

		for _, line := range strings.Split(block, "\n") {
			output = append(output, line+lineEnd)
		}
	}

	if index < len(lines) && !isBlank(lines[index]) {
		output = append(output, lineEnd)
	}

	return output
}

func existingAnchors(original string) map[string]struct{} {
	found := make(map[string]struct{})
	for _, match := range existingMarker.FindAllStringSubmatch(original, -1) {
		found[match[1]] = struct{}{}
	}

	return found
}

func splitLines(original string) []string {
	if original == "" {
		return nil
	}

	return strings.Split(strings.TrimSuffix(original, "\n"), "\n")
}

func linkDestination(imagePath string) string {
	if strings.ContainsAny(imagePath, " ()") {
		return "<" + imagePath + ">"
	}

	return imagePath
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func clamp(value, low, high int) int {
	return min(max(value, low), high)
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}

	return string(runes[:limit])
}
