// Package promptbuilder composes the system instruction sent to the text model
// when it plans image placements for a blog post.
package promptbuilder

import (
	"fmt"
	"strings"
)

// DirectorConfig holds the art-direction settings for one document.
// They apply to every image of the post so the set stays visually uniform.
type DirectorConfig struct {
	// StyleProfile: "editorial", "technical", "playful" or "photographic".
	StyleProfile string
	// HeroImage asks for an opening image right after the title.
	HeroImage bool
	// CustomInstructions: free-form requests appended verbatim.
	CustomInstructions string
	// Exclusions: sections or subjects that must not be illustrated.
	Exclusions []string
}

// BuildSystemInstruction constructs the planner persona and output contract.
func BuildSystemInstruction(cfg DirectorConfig) string {
	var sb strings.Builder

	sb.WriteString("You are an expert Art Director for a technical blog. Your task is to choose where illustrations belong in a Markdown post and to write the image-generation prompt for each one.\n")
	sb.WriteString("You only see a digest of the post: numbered anchors (headings and paragraphs) with short excerpts. Refer to anchors strictly by their anchor_id.\n\n")

	profile := resolveStyleProfile(cfg.StyleProfile)

	sb.WriteString("### VISUAL STYLE (APPLY TO EVERY IMAGE):\n")
	sb.WriteString(fmt.Sprintf("- **Profile:** %s\n", profile.Name))
	sb.WriteString(fmt.Sprintf("- **Medium:** %s\n", profile.Medium))
	sb.WriteString(fmt.Sprintf("- **Palette:** %s\n", profile.Palette))
	sb.WriteString(fmt.Sprintf("- **Composition:** %s\n", profile.Composition))
	sb.WriteString(fmt.Sprintf("- **Preferred aspect ratio:** %s\n", profile.AspectRatio))
	sb.WriteString("\n")

	sb.WriteString("### YOUR TASKS:\n")
	sb.WriteString("1. **Select:** Pick the anchors where an image helps the reader most. Never exceed max_images and never pick the same anchor twice.\n")
	sb.WriteString("2. **Prompt:** Write a concrete, self-contained prompt per image. Describe subject, setting and style. Never ask for text, letters or logos inside the image.\n")
	sb.WriteString("3. **Describe:** Give each image short alt text for screen readers and, optionally, a one-line caption.\n")
	sb.WriteString("4. **Place:** Use position \"after\" to follow the anchor or \"before\" to precede it.\n")

	if cfg.HeroImage {
		sb.WriteString("5. **Hero:** The first placement must be a wide hero image attached to the first heading of the post.\n")
	}

	sb.WriteString("\n")

	if len(cfg.Exclusions) > 0 || cfg.CustomInstructions != "" {
		sb.WriteString("### USER CONSTRAINTS:\n")

		if len(cfg.Exclusions) > 0 {
			sb.WriteString("DO NOT ILLUSTRATE:\n")

			for _, ex := range cfg.Exclusions {
				sb.WriteString(fmt.Sprintf("- %s\n", ex))
			}
		}

		if cfg.CustomInstructions != "" {
			sb.WriteString(fmt.Sprintf("Additional Instructions: %s\n", cfg.CustomInstructions))
		}

		sb.WriteString("\n")
	}

	sb.WriteString("### OUTPUT FORMAT (STRICT JSON, NO PROSE):\n")
	sb.WriteString(`{"placements":[{"anchor_id":"a3","position":"after","prompt":"...","alt_text":"...","caption":"...","aspect_ratio":"16:9"}]}`)
	sb.WriteString("\n")

	return sb.String()
}

type styleDef struct {
	Name        string
	Medium      string
	Palette     string
	Composition string
	AspectRatio string
}

func resolveStyleProfile(profileName string) styleDef {
	def := styleDef{
		Name:        "Editorial",
		Medium:      "Clean digital illustration with soft lighting and subtle depth of field.",
		Palette:     "Muted, modern tones with one accent color.",
		Composition: "Single clear subject, generous negative space.",
		AspectRatio: "16:9",
	}

	switch strings.ToLower(strings.TrimSpace(profileName)) {
	case "technical", "diagram":
		def.Name = "Technical"
		def.Medium = "Minimalist vector diagrams and isometric schematics."
		def.Palette = "White background, two or three flat colors."
		def.Composition = "Components and flows laid out left to right, no decorative clutter."
		def.AspectRatio = "4:3"
	case "playful", "cartoon":
		def.Name = "Playful"
		def.Medium = "Hand-drawn cartoon illustration with bold outlines."
		def.Palette = "Bright, saturated, cheerful colors."
		def.Composition = "Characters or objects acting out the idea."
	case "photographic", "photo":
		def.Name = "Photographic"
		def.Medium = "Realistic photography, natural light, shallow depth of field."
		def.Palette = "True-to-life colors."
		def.Composition = "Rule of thirds, real-world scenes that evoke the topic."
		def.AspectRatio = "3:2"
	}

	return def
}
