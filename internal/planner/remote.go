package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/llm"
	"github.com/book-expert/blog-illustrator-service/internal/promptbuilder"
)

const (
	excerptRunes  = 200
	excerptSuffix = "…"

	baseInstructions = "Choose up to max_images anchors. Prefer placing images AFTER the anchor. " +
		"Never place images back-to-back. Write a cinematic, descriptive prompt suitable for an image model. " +
		"Return JSON with a 'placements' array of objects: " +
		"{anchor_id, position, prompt, alt_text, caption, aspect_ratio}."
	heroInstruction   = " hero_image is true: the first placement is a wide hero image after the first heading."
	noHeroInstruction = " Avoid the very first short intro paragraph; no hero image is needed."
)

// TextGenerator produces raw model text for a request.
type TextGenerator interface {
	Generate(ctx context.Context, request llm.TextRequest) (string, error)
}

// AnchorDigest is the per-anchor summary sent to the text model.
type AnchorDigest struct {
	AnchorID    string       `json:"anchor_id"`
	Kind        anchors.Kind `json:"kind"`
	Level       int          `json:"level,omitempty"`
	TextExcerpt string       `json:"text_excerpt"`
	StartLine   int          `json:"start_line"`
}

type userPayload struct {
	BlogTitle    string         `json:"blog_title"`
	MaxImages    int            `json:"max_images"`
	HeroImage    bool           `json:"hero_image"`
	Anchors      []AnchorDigest `json:"anchors"`
	Instructions string         `json:"instructions"`
}

// Remote plans placements with a text model.
type Remote struct {
	generator TextGenerator
	director  promptbuilder.DirectorConfig
}

func NewRemote(generator TextGenerator, director promptbuilder.DirectorConfig) *Remote {
	return &Remote{generator: generator, director: director}
}

// Plan asks the model for placements and validates its answer.
func (r *Remote) Plan(ctx context.Context, list []anchors.Anchor, title string, maxImages int) ([]Placement, error) {
	if r.generator == nil {
		return nil, ErrNoGenerator
	}

	prompt, err := r.buildUserPrompt(list, title, maxImages)
	if err != nil {
		return nil, err
	}

	raw, err := r.generator.Generate(ctx, llm.TextRequest{
		SystemInstruction: promptbuilder.BuildSystemInstruction(r.director),
		UserPrompt:        prompt,
		ResponseMIMEType:  llm.MimeTypeJSON,
		ResponseSchema:    responseSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	return ParseResponse(raw, maxImages)
}

func (r *Remote) buildUserPrompt(list []anchors.Anchor, title string, maxImages int) (string, error) {
	instructions := baseInstructions + noHeroInstruction
	if r.director.HeroImage {
		instructions = baseInstructions + heroInstruction
	}

	payload := userPayload{
		BlogTitle:    title,
		MaxImages:    maxImages,
		HeroImage:    r.director.HeroImage,
		Anchors:      Digest(list),
		Instructions: instructions,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal planner payload: %w", err)
	}

	return string(encoded), nil
}

// Digest summarizes anchors for the model, cutting excerpts to 200 runes.
func Digest(list []anchors.Anchor) []AnchorDigest {
	digest := make([]AnchorDigest, 0, len(list))

	for _, anchor := range list {
		excerpt := anchor.Text
		if runes := []rune(excerpt); len(runes) > excerptRunes {
			excerpt = string(runes[:excerptRunes]) + excerptSuffix
		}

		digest = append(digest, AnchorDigest{
			AnchorID:    anchor.AnchorID,
			Kind:        anchor.Kind,
			Level:       anchor.Level,
			TextExcerpt: excerpt,
			StartLine:   anchor.StartLine,
		})
	}

	return digest
}

func responseSchema() *genai.Schema {
	text := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"placements": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"anchor_id":    text(),
						"position":     {Type: genai.TypeString, Enum: []string{"after", "before"}},
						"prompt":       text(),
						"alt_text":     text(),
						"caption":      text(),
						"aspect_ratio": text(),
					},
					Required: []string{"anchor_id", "prompt", "alt_text"},
				},
			},
		},
		Required: []string{"placements"},
	}
}
