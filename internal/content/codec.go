// internal/content/codec.go
package content

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const codeFence = "```"

// Codec converts between the editor's HTML and Markdown.
type Codec struct {
	sanitizer *Sanitizer
	converter *md.Converter
	markdown  goldmark.Markdown
}

// NewCodec creates a codec that sanitizes with s.
func NewCodec(s *Sanitizer) *Codec {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		CodeBlockStyle:   "fenced",
		Fence:            codeFence,
		BulletListMarker: "-",
		EmDelimiter:      "*",
		StrongDelimiter:  "**",
		LinkStyle:        "inlined",
	})
	converter.Use(plugin.Strikethrough("~~"))
	converter.AddRules(
		md.Rule{Filter: []string{"pre"}, Replacement: codeBlockRule},
		md.Rule{Filter: []string{"img"}, Replacement: imageRule},
		md.Rule{Filter: []string{"table"}, Replacement: tableRule},
		md.Rule{Filter: []string{"u", "ins"}, Replacement: underlineRule},
		md.Rule{Filter: []string{"iframe"}, Replacement: embedRule},
		md.Rule{Filter: []string{"br"}, Replacement: hardBreakRule},
	)

	return &Codec{
		sanitizer: s,
		converter: converter,
		markdown:  newMarkdown(),
	}
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		// raw HTML is allowed through here because the sanitizer runs next
		goldmark.WithRendererOptions(gmhtml.WithUnsafe(), gmhtml.WithHardWraps()),
	)
}

// ToMarkdown converts editor HTML to Markdown.
func (c *Codec) ToMarkdown(structuredHTML string) (string, error) {
	if strings.TrimSpace(structuredHTML) == "" {
		return "", nil
	}
	out, err := c.converter.ConvertString(structuredHTML)
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return out, nil
}

// ToStructuredDocument renders Markdown to sanitized HTML for the editor.
func (c *Codec) ToStructuredDocument(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown to html: %w", err)
	}
	return c.sanitizer.Sanitize(buf.String()), nil
}

// codeBlockRule reads the body from the code node's text, not its HTML.
func codeBlockRule(_ string, selec *goquery.Selection, _ *md.Options) *string {
	code := selec.Find("code").First()
	body := selec.Text()
	lang := ""
	if code.Length() > 0 {
		body = code.Text()
		lang = languageFromClass(code.AttrOr("class", ""))
	}
	body = strings.TrimSuffix(body, "\n")

	fence := codeFence
	for strings.Contains(body, fence) {
		fence += "`"
	}
	return md.String("\n\n" + fence + lang + "\n" + body + "\n" + fence + "\n\n")
}

func languageFromClass(class string) string {
	for _, c := range strings.Fields(class) {
		if lang, ok := strings.CutPrefix(c, "language-"); ok && lang != "" {
			return lang
		}
	}
	return ""
}

func imageRule(_ string, selec *goquery.Selection, _ *md.Options) *string {
	src := strings.TrimSpace(selec.AttrOr("src", ""))
	if src == "" {
		return md.String("")
	}
	alt := selec.AttrOr("alt", "")
	return md.String("![" + alt + "](" + src + ")")
}

// tableRule treats the first row as the header whatever its cell kind.
func tableRule(_ string, selec *goquery.Selection, _ *md.Options) *string {
	var rows [][]string
	selec.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(selec)
	}).Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, tableCell(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return md.String("")
	}

	separator := make([]string, len(rows[0]))
	for i := range separator {
		separator[i] = "---"
	}

	// a single column needs outer pipes or it reads as a setext heading
	row := func(cells []string) string {
		line := strings.Join(cells, " | ")
		if len(rows[0]) == 1 {
			line = "| " + line + " |"
		}
		return line
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, row(rows[0]), row(separator))
	for _, cells := range rows[1:] {
		lines = append(lines, row(cells))
	}
	return md.String("\n\n" + strings.Join(lines, "\n") + "\n\n")
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
)

// tableCell keeps cell text literal since the rule reads text, not markup.
func tableCell(text string) string {
	return cellEscaper.Replace(collapseSpace(text))
}

// hardBreakRule keeps a line break inside its paragraph.
func hardBreakRule(_ string, _ *goquery.Selection, _ *md.Options) *string {
	return md.String("  \n")
}

// underline has no Markdown syntax, so it stays inline HTML.
func underlineRule(content string, _ *goquery.Selection, _ *md.Options) *string {
	if strings.TrimSpace(content) == "" {
		return md.String(content)
	}
	return md.String("<u>" + content + "</u>")
}

func embedRule(_ string, selec *goquery.Selection, _ *md.Options) *string {
	src := strings.TrimSpace(selec.AttrOr("src", ""))
	if !isEmbedURL(src) {
		return md.String("")
	}
	return md.String("\n\n<iframe src=\"" + html.EscapeString(src) + "\"></iframe>\n\n")
}
