// internal/content/outline.go
package content

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BlockKind names a block of the structured document.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockQuote     BlockKind = "quote"
	BlockCode      BlockKind = "code"
	BlockTable     BlockKind = "table"
	BlockImage     BlockKind = "image"
	BlockEmbed     BlockKind = "embed"
	BlockRule      BlockKind = "rule"
)

// Block is one top-level node of the editor's document, reduced to what
// matters for display equivalence: kind, text and structure.
type Block struct {
	Kind     BlockKind  `json:"kind"`
	Level    int        `json:"level,omitempty"`
	Text     string     `json:"text,omitempty"`
	Ordered  bool       `json:"ordered,omitempty"`
	Items    []string   `json:"items,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Language string     `json:"language,omitempty"`
	Src      string     `json:"src,omitempty"`
}

// Outline parses editor HTML into its block sequence.
func Outline(structuredHTML string) ([]Block, error) {
	root, err := parseFragment(structuredHTML)
	if err != nil {
		return nil, err
	}
	var blocks []Block
	collectBlocks(root, &blocks)
	return blocks, nil
}

// TableOfContents keeps the heading blocks.
func TableOfContents(blocks []Block) []Block {
	var toc []Block
	for _, b := range blocks {
		if b.Kind == BlockHeading {
			toc = append(toc, b)
		}
	}
	return toc
}

func collectBlocks(n *html.Node, blocks *[]Block) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			*blocks = append(*blocks, Block{
				Kind:  BlockHeading,
				Level: int(c.Data[1] - '0'),
				Text:  collapseSpace(textContent(c)),
			})
		case atom.P:
			if text := collapseSpace(textContent(c)); text != "" {
				*blocks = append(*blocks, Block{Kind: BlockParagraph, Text: text})
			}
			collectMedia(c, blocks)
		case atom.Ul, atom.Ol:
			list := Block{Kind: BlockList, Ordered: c.DataAtom == atom.Ol}
			for li := c.FirstChild; li != nil; li = li.NextSibling {
				if li.DataAtom == atom.Li {
					list.Items = append(list.Items, collapseSpace(textContent(li)))
				}
			}
			*blocks = append(*blocks, list)
		case atom.Blockquote:
			*blocks = append(*blocks, Block{Kind: BlockQuote, Text: collapseSpace(textContent(c))})
		case atom.Pre:
			block := Block{Kind: BlockCode, Text: strings.TrimSuffix(textContent(c), "\n")}
			walk(c, func(n *html.Node) {
				if n.DataAtom == atom.Code && block.Language == "" {
					block.Language = languageFromClass(getAttr(n, "class"))
				}
			})
			*blocks = append(*blocks, block)
		case atom.Table:
			table := Block{Kind: BlockTable}
			walk(c, func(n *html.Node) {
				if n.DataAtom != atom.Tr {
					return
				}
				var row []string
				for cell := n.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.DataAtom == atom.Th || cell.DataAtom == atom.Td {
						row = append(row, collapseSpace(textContent(cell)))
					}
				}
				if len(row) > 0 {
					table.Rows = append(table.Rows, row)
				}
			})
			*blocks = append(*blocks, table)
		case atom.Img:
			*blocks = append(*blocks, Block{Kind: BlockImage, Text: getAttr(c, "alt"), Src: getAttr(c, "src")})
		case atom.Iframe:
			*blocks = append(*blocks, Block{Kind: BlockEmbed, Src: getAttr(c, "src")})
		case atom.Hr:
			*blocks = append(*blocks, Block{Kind: BlockRule})
		default:
			collectBlocks(c, blocks)
		}
	}
}

// collectMedia lifts images and embeds nested in a paragraph.
func collectMedia(p *html.Node, blocks *[]Block) {
	walk(p, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Img:
			*blocks = append(*blocks, Block{Kind: BlockImage, Text: getAttr(n, "alt"), Src: getAttr(n, "src")})
		case atom.Iframe:
			*blocks = append(*blocks, Block{Kind: BlockEmbed, Src: getAttr(n, "src")})
		}
	})
}
