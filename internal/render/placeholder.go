package render

import (
	"context"
	"fmt"
	"html"

	"github.com/edgeog/backend/internal/cacheid"
)

// Placeholder renders a plain SVG card locally. It is used when no render
// backend is configured, for development and tests. Every format is served
// as SVG.
type Placeholder struct{}

func (Placeholder) Render(_ context.Context, p cacheid.Params) (*Image, error) {
	bg, fg := "#ffffff", "#111111"
	if p["theme"] == "dark" {
		bg, fg = "#111111", "#f5f5f5"
	}
	title := p["title"]
	if title == "" {
		title = p["template"]
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1200" height="630" viewBox="0 0 1200 630">`+
		`<rect width="1200" height="630" fill="%s"/>`+
		`<text x="80" y="330" font-family="%s, sans-serif" font-size="64" fill="%s">%s</text>`+
		`</svg>`,
		bg, html.EscapeString(p["font"]), fg, html.EscapeString(title))
	return &Image{ContentType: "image/svg+xml", Body: []byte(svg)}, nil
}
