package markup

import (
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// MarkdownToHTML переводит обычный Markdown в подмножество HTML, которое понимает
// Bot API (parse_mode=HTML): <b>, <i>, <s>, <code>, <pre>, <a>, <blockquote>.
// Заголовки выводятся жирным, списки — текстом с маркерами.
func MarkdownToHTML(src string) string {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.Text:
			if entering {
				b.WriteString(html.EscapeString(string(n.Segment.Value(source))))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.WriteString(html.EscapeString(string(n.Value)))
			}
		case *ast.Emphasis:
			tag := "i"
			if n.Level >= 2 {
				tag = "b"
			}
			writeTag(&b, tag, entering)
		case *extast.Strikethrough:
			writeTag(&b, "s", entering)
		case *ast.CodeSpan:
			b.WriteString("<code>")
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					b.WriteString(html.EscapeString(string(t.Segment.Value(source))))
				}
			}
			b.WriteString("</code>")
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			b.WriteString("<pre>")
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.WriteString(html.EscapeString(string(line.Value(source))))
			}
			b.WriteString("</pre>\n")
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if entering {
				b.WriteString(`<a href="` + html.EscapeString(string(n.Destination)) + `">`)
			} else {
				b.WriteString("</a>")
			}
		case *ast.AutoLink:
			if entering {
				u := html.EscapeString(string(n.URL(source)))
				b.WriteString(`<a href="` + u + `">` + u + `</a>`)
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			if entering {
				for i := 0; i < n.Segments.Len(); i++ {
					seg := n.Segments.At(i)
					b.WriteString(html.EscapeString(string(seg.Value(source))))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if entering {
				b.WriteString("<b>")
			} else {
				b.WriteString("</b>\n")
			}
		case *ast.Blockquote:
			writeTag(&b, "blockquote", entering)
		case *ast.Paragraph:
			if !entering {
				b.WriteByte('\n')
			}
		case *ast.ListItem:
			if entering {
				b.WriteString(listMarker(n))
			} else {
				b.WriteByte('\n')
			}
		case *ast.ThematicBreak:
			if entering {
				b.WriteString("---\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return html.EscapeString(src)
	}

	return strings.TrimSpace(b.String())
}

func writeTag(b *strings.Builder, tag string, entering bool) {
	if entering {
		b.WriteString("<" + tag + ">")
	} else {
		b.WriteString("</" + tag + ">")
	}
}

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "• "
	}
	n := list.Start
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		n++
	}
	return strconv.Itoa(n) + ". "
}
