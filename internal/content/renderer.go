// internal/content/renderer.go
package content

import (
	"fmt"

	"github.com/Corphon/ShelfTalk/internal/models"
)

// Renderer produces display HTML for stored documents.
type Renderer struct {
	sanitizer *Sanitizer
	codec     *Codec
}

// Rendered is display-ready HTML plus its outline.
type Rendered struct {
	HTML    string  `json:"html"`
	Outline []Block `json:"outline"`
}

func NewRenderer(s *Sanitizer, c *Codec) *Renderer {
	return &Renderer{sanitizer: s, codec: c}
}

// Render interprets content according to contentType.
func (r *Renderer) Render(content string, contentType models.ContentType) (*Rendered, error) {
	var out string
	switch contentType {
	case models.ContentTypeHTML, "":
		out = r.sanitizer.Sanitize(content)
	case models.ContentTypeMarkdown:
		var err error
		if out, err = r.codec.ToStructuredDocument(content); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown content type %q", contentType)
	}

	outline, err := Outline(out)
	if err != nil {
		return nil, err
	}
	return &Rendered{HTML: out, Outline: TableOfContents(outline)}, nil
}

// Convert translates content from one type to the other. The input is
// returned unchanged when from == to.
func (r *Renderer) Convert(content string, from, to models.ContentType) (string, error) {
	switch {
	case from == to:
		return content, nil
	case from == models.ContentTypeHTML && to == models.ContentTypeMarkdown:
		return r.codec.ToMarkdown(r.sanitizer.Sanitize(content))
	case from == models.ContentTypeMarkdown && to == models.ContentTypeHTML:
		return r.codec.ToStructuredDocument(content)
	default:
		return "", fmt.Errorf("cannot convert %q to %q", from, to)
	}
}

// Sanitizer exposes the renderer's sanitizer.
func (r *Renderer) Sanitizer() *Sanitizer { return r.sanitizer }

// Codec exposes the renderer's codec.
func (r *Renderer) Codec() *Codec { return r.codec }
