package imagegen

import (
	"math"
	"strconv"
	"strings"
)

// Size converts a "W:H" ratio into pixel dimensions at defaultWidth.
// W is clamped to at least 1. Unparseable ratios, or ones giving a
// non-positive height, yield the defaults.
func Size(aspectRatio string, defaultWidth, defaultHeight int) (int, int) {
	widthPart, heightPart, found := strings.Cut(strings.TrimSpace(aspectRatio), ":")
	if !found {
		return defaultWidth, defaultHeight
	}

	ratioWidth, err := strconv.Atoi(strings.TrimSpace(widthPart))
	if err != nil {
		return defaultWidth, defaultHeight
	}

	ratioHeight, err := strconv.Atoi(strings.TrimSpace(heightPart))
	if err != nil {
		return defaultWidth, defaultHeight
	}

	height := int(math.Round(float64(defaultWidth) * float64(ratioHeight) / float64(max(1, ratioWidth))))
	if height <= 0 {
		return defaultWidth, defaultHeight
	}

	return defaultWidth, height
}

// modelAspectRatio returns the ratio if the image model accepts it.
func modelAspectRatio(aspectRatio string) string {
	switch ratio := strings.ReplaceAll(aspectRatio, " ", ""); ratio {
	case "1:1", "3:4", "4:3", "9:16", "16:9":
		return ratio
	default:
		return ""
	}
}
