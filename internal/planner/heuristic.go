package planner

import (
	"fmt"
	"strings"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
)

const (
	diagramMinWords    = 30
	diagramExcerptRune = 120

	conceptPromptFormat = "Illustrative concept art for: %s. " +
		"Clean, editorial, modern, high-detail, soft lighting, depth of field."
	diagramPromptFormat = "Diagrammatic illustration of: %s... " +
		"Minimalist, editorial, vector-art style, white background."
	conceptAltFormat = "Illustration: %s"
	diagramAltText   = "Editorial diagram"
)

// Heuristic plans images without a model: section headings first, then at
// most one long paragraph as a diagram.
func Heuristic(list []anchors.Anchor, maxImages int) []Placement {
	placements := make([]Placement, 0, max(maxImages, 0))
	if maxImages <= 0 {
		return placements
	}

	for _, anchor := range list {
		if len(placements) >= maxImages {
			break
		}

		if !isHeadingSection(anchor) {
			continue
		}

		placements = append(placements, Placement{
			AnchorID:    anchor.AnchorID,
			Position:    PositionAfter,
			Prompt:      fmt.Sprintf(conceptPromptFormat, anchor.Text),
			AltText:     fmt.Sprintf(conceptAltFormat, anchor.Text),
			AspectRatio: DefaultAspectRatio,
		})
	}

	if len(placements) >= maxImages {
		return placements
	}

	for _, anchor := range list {
		if anchor.Kind != anchors.KindParagraph || len(strings.Fields(anchor.Text)) <= diagramMinWords {
			continue
		}

		placements = append(placements, Placement{
			AnchorID:    anchor.AnchorID,
			Position:    PositionAfter,
			Prompt:      fmt.Sprintf(diagramPromptFormat, headRunes(anchor.Text, diagramExcerptRune)),
			AltText:     diagramAltText,
			AspectRatio: DiagramAspectRatio,
		})

		break
	}

	return placements
}

func headRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit])
}
