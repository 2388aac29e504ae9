// internal/content/plaintext.go
package content

import (
	"bytes"
	"strings"

	"github.com/Corphon/ShelfTalk/internal/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var plainMarkdown = newMarkdown()

// PlainText derives the tag-stripped text of a document from its content
// alone. Markdown is rendered first so its syntax does not leak into the text.
func PlainText(content string, contentType models.ContentType) string {
	source := content
	if contentType == models.ContentTypeMarkdown {
		var buf bytes.Buffer
		if err := plainMarkdown.Convert([]byte(content), &buf); err == nil {
			source = buf.String()
		}
	}

	root, err := parseFragment(source)
	if err != nil {
		return collapseSpace(source)
	}

	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		block := n.Type == html.ElementNode && isBlockElement(n.DataAtom)
		if block {
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
		if block {
			sb.WriteByte(' ')
		}
	}
	visit(root)
	return collapseSpace(sb.String())
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Hr, atom.Li, atom.Ul, atom.Ol,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Table, atom.Tr, atom.Td, atom.Th,
		atom.Section, atom.Article:
		return true
	}
	return false
}

// Excerpt returns at most max runes of text, cut at a word boundary when possible.
func Excerpt(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
