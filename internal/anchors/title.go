package anchors

import (
	"strings"

	"github.com/adrg/frontmatter"
)

type titleFrontMatter struct {
	Title string `yaml:"title" toml:"title" json:"title"`
}

// Title resolves the blog title. A front matter title wins, then a first
// line that is a Markdown heading, then the supplied fallback.
func Title(markdown, fallback string) string {
	var meta titleFrontMatter

	body, err := frontmatter.Parse(strings.NewReader(markdown), &meta)
	if err != nil {
		body = []byte(markdown)
	}

	if title := strings.TrimSpace(meta.Title); title != "" {
		return title
	}

	firstLine, _, _ := strings.Cut(string(body), "\n")
	firstLine = strings.TrimRight(firstLine, "\r")

	if strings.HasPrefix(firstLine, "#") {
		return strings.TrimSpace(strings.TrimLeft(firstLine, "# "))
	}

	return fallback
}
