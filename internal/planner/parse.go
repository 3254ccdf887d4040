package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const codeFence = "```"

type responseEnvelope struct {
	Placements []json.RawMessage `json:"placements"`
}

// ParseResponse validates raw model output and converts it to at most
// maxImages placements. Candidates that are not objects, lack an anchor id,
// or repeat one are dropped; the first occurrence of an id wins.
func ParseResponse(raw string, maxImages int) ([]Placement, error) {
	payload := stripCodeFence(raw)

	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	decoder.UseNumber()

	var envelope responseEnvelope
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	placements := make([]Placement, 0, len(envelope.Placements))
	seen := make(map[string]struct{}, len(envelope.Placements))

	for _, element := range envelope.Placements {
		candidate, ok := decodeCandidate(element)
		if !ok {
			continue
		}

		anchorID := stringField(candidate, "anchor_id")
		if anchorID == "" {
			continue
		}

		if _, duplicate := seen[anchorID]; duplicate {
			continue
		}

		seen[anchorID] = struct{}{}

		placement := Placement{
			AnchorID:    anchorID,
			Position:    normalizePosition(strings.ToLower(stringField(candidate, "position"))),
			Prompt:      stringField(candidate, "prompt"),
			AltText:     stringField(candidate, "alt_text"),
			Caption:     stringField(candidate, "caption"),
			AspectRatio: stringField(candidate, "aspect_ratio"),
		}

		if placement.AltText == "" {
			placement.AltText = DefaultAltText
		}

		if placement.AspectRatio == "" {
			placement.AspectRatio = DefaultAspectRatio
		}

		placements = append(placements, placement)
	}

	if len(placements) == 0 {
		return nil, ErrNoPlacements
	}

	if maxImages < 0 {
		maxImages = 0
	}

	if len(placements) > maxImages {
		placements = placements[:maxImages]
	}

	return placements, nil
}

func decodeCandidate(element json.RawMessage) (map[string]any, bool) {
	decoder := json.NewDecoder(bytes.NewReader(element))
	decoder.UseNumber()

	var candidate map[string]any
	if err := decoder.Decode(&candidate); err != nil {
		return nil, false
	}

	return candidate, candidate != nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, codeFence) {
		return text
	}

	// Drop the opening fence line, including any language tag.
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	} else {
		text = strings.TrimPrefix(text, codeFence)
	}

	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, codeFence)

	return strings.TrimSpace(text)
}

func stringField(candidate map[string]any, key string) string {
	switch value := candidate[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
