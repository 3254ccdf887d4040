package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderMargin     = 20
	placeholderLineHeight = 16
	placeholderLineLength = 48
	placeholderMaxRunes   = 300
	placeholderEllipsis   = "…"
)

var (
	placeholderBackground = color.RGBA{R: 240, G: 243, B: 247, A: 255}
	placeholderInk        = color.RGBA{R: 60, G: 60, B: 60, A: 255}
)

// RenderPlaceholder draws the prompt onto a flat PNG of the given size.
func RenderPlaceholder(prompt string, width, height int) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(placeholderInk),
		Face: face,
	}

	baseline := placeholderMargin + face.Metrics().Ascent.Ceil()

	for _, line := range WrapText(clipPrompt(prompt), placeholderLineLength) {
		if baseline > height {
			break
		}

		drawer.Dot = fixed.P(placeholderMargin, baseline)
		drawer.DrawString(line)
		baseline += placeholderLineHeight
	}

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, canvas); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}

	return buffer.Bytes(), nil
}

// WrapText greedily packs words into lines of at most lineLength runes.
// A single word longer than the limit gets a line of its own.
func WrapText(text string, lineLength int) []string {
	var (
		lines   []string
		current []string
		length  int
	)

	for _, word := range strings.Fields(text) {
		wordLength := len([]rune(word))

		separator := 0
		if len(current) > 0 {
			separator = 1
		}

		if len(current) > 0 && length+separator+wordLength > lineLength {
			lines = append(lines, strings.Join(current, " "))
			current = []string{word}
			length = wordLength

			continue
		}

		current = append(current, word)
		length += separator + wordLength
	}

	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	return lines
}

func clipPrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= placeholderMaxRunes {
		return prompt
	}

	return string(runes[:placeholderMaxRunes]) + placeholderEllipsis
}
