// internal/content/sanitize.go
package content

import (
	"net/url"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Visual defaults applied to rendered media.
const (
	DefaultImageAlt    = "Blog content image"
	ImageClasses       = "my-6 rounded-lg mx-auto max-h-96 w-full object-cover"
	EmbedWrapperClass  = "relative w-full h-0 pb-[56.25%] my-6 rounded-lg overflow-hidden"
	EmbedFrameClasses  = "absolute top-0 left-0 w-full h-full"
	EmbedAllow         = "accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture"
	embedWrapperMarker = "pb-[56.25%]"
)

var allowedElements = []string{
	"p", "br", "hr",
	"strong", "b", "em", "i", "u", "s", "del", "strike",
	"a", "img",
	"h1", "h2", "h3", "h4", "h5", "h6",
	"ul", "ol", "li", "blockquote", "code", "pre",
	"table", "caption", "colgroup", "col", "thead", "tbody", "tfoot", "tr", "th", "td",
	"div", "span", "iframe",
}

var allowedStyles = []string{
	"color", "background-color", "text-align", "font-weight", "font-style",
	"text-decoration", "width", "height", "max-width",
}

// embedHosts maps a video host to the path prefix of its embeddable player.
var embedHosts = map[string]string{
	"www.youtube.com":          "/embed/",
	"youtube.com":              "/embed/",
	"www.youtube-nocookie.com": "/embed/",
	"youtube-nocookie.com":     "/embed/",
	"player.vimeo.com":         "/video/",
}

// Sanitizer turns arbitrary HTML into the restricted subset that is safe to
// display. Sanitize is idempotent.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds the allow-list policy.
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedElements...)

	p.AllowAttrs("target", "rel", "alt", "title", "class", "id",
		"loading", "allowfullscreen", "allow", "width", "height").Globally()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src").OnElements("img", "iframe")
	p.AllowStyles(allowedStyles...).Globally()

	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.AllowDataURIImages()

	return &Sanitizer{policy: p}
}

// maxSanitizePasses bounds the fixed-point loop in Sanitize.
const maxSanitizePasses = 5

// Sanitize rewrites media elements and then applies the allow-list. Dropping
// a disallowed wrapper can leave markup the HTML parser nests differently on
// the next read, so passes repeat until the output stops changing.
func (s *Sanitizer) Sanitize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	out := s.pass(input)
	for i := 1; i < maxSanitizePasses; i++ {
		next := s.pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (s *Sanitizer) pass(input string) string {
	prepared, err := rewriteMedia(input)
	if err != nil {
		// the allow-list alone still yields safe output
		prepared = input
	}
	return s.policy.Sanitize(prepared)
}

// rewriteMedia applies the image and embed rules on the parsed DOM.
func rewriteMedia(input string) (string, error) {
	root, err := parseFragment(input)
	if err != nil {
		return "", err
	}

	var images, frames []*html.Node
	walk(root, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Img:
			images = append(images, n)
		case atom.Iframe:
			frames = append(frames, n)
		}
	})

	for _, img := range images {
		if strings.TrimSpace(getAttr(img, "alt")) == "" {
			setAttr(img, "alt", DefaultImageAlt)
		}
		setAttr(img, "loading", "lazy")
		setAttr(img, "class", mergeClasses(getAttr(img, "class"), ImageClasses))
	}

	for _, frame := range frames {
		if !isEmbedURL(getAttr(frame, "src")) {
			frame.Parent.RemoveChild(frame)
			continue
		}
		setAttr(frame, "class", mergeClasses(getAttr(frame, "class"), EmbedFrameClasses))
		setAttr(frame, "allowfullscreen", "true")
		setAttr(frame, "allow", EmbedAllow)
		if !isEmbedWrapper(frame.Parent) {
			wrapper := &html.Node{
				Type:     html.ElementNode,
				Data:     "div",
				DataAtom: atom.Div,
				Attr:     []html.Attribute{{Key: "class", Val: EmbedWrapperClass}},
			}
			frame.Parent.InsertBefore(wrapper, frame)
			frame.Parent.RemoveChild(frame)
			wrapper.AppendChild(frame)
		}
	}

	return renderChildren(root)
}

func isEmbedURL(src string) bool {
	src = strings.TrimSpace(src)
	if src == "" {
		return false
	}
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	if u.Scheme != "" && u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	prefix, ok := embedHosts[strings.ToLower(u.Host)]
	return ok && strings.HasPrefix(u.Path, prefix)
}

// isEmbedWrapper reports whether n is a wrapper div holding exactly one element.
func isEmbedWrapper(n *html.Node) bool {
	if n == nil || n.DataAtom != atom.Div {
		return false
	}
	if !slices.Contains(strings.Fields(getAttr(n, "class")), embedWrapperMarker) {
		return false
	}
	elements := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			elements++
		}
	}
	return elements == 1
}

// mergeClasses appends the classes of add missing from existing, keeping order.
func mergeClasses(existing, add string) string {
	classes := strings.Fields(existing)
	for _, c := range strings.Fields(add) {
		if !slices.Contains(classes, c) {
			classes = append(classes, c)
		}
	}
	return strings.Join(classes, " ")
}
