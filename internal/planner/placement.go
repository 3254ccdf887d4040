// Package planner decides which anchors of a document receive an image and
// describes each image to generate.
package planner

import (
	"errors"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
)

// Position is where an image block goes relative to its anchor.
type Position string

const (
	PositionAfter  Position = "after"
	PositionBefore Position = "before"
)

// Source records which strategy produced a plan.
type Source string

const (
	SourceRemote    Source = "remote"
	SourceHeuristic Source = "heuristic"
)

const (
	DefaultAltText     = "Illustration for section"
	DefaultAspectRatio = "16:9"
	DiagramAspectRatio = "4:3"
)

var (
	// ErrMalformedResponse is returned when the model output is not a JSON object.
	ErrMalformedResponse = errors.New("malformed planner response")
	// ErrNoPlacements is returned when no usable placement survives parsing.
	ErrNoPlacements = errors.New("planner response contains no usable placements")
	// ErrNoGenerator is returned when live planning has no text generator.
	ErrNoGenerator = errors.New("no text generator configured")
)

// Placement directs the generation and insertion of one image.
// An empty Caption means no caption line is written.
type Placement struct {
	AnchorID    string   `json:"anchor_id"`
	Position    Position `json:"position"`
	Prompt      string   `json:"prompt"`
	AltText     string   `json:"alt_text"`
	Caption     string   `json:"caption,omitempty"`
	AspectRatio string   `json:"aspect_ratio"`
}

// Outcome is the result of Planner.Plan. Err holds the remote failure that
// caused a fallback, if any.
type Outcome struct {
	Placements []Placement
	Source     Source
	Err        error
}

func normalizePosition(raw string) Position {
	if Position(raw) == PositionBefore {
		return PositionBefore
	}

	return PositionAfter
}

func isHeadingSection(anchor anchors.Anchor) bool {
	return anchor.IsHeading() && (anchor.Level == 2 || anchor.Level == 3) && anchor.Text != ""
}
