package export

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const printCSS = `body{font-family:Georgia,serif;max-width:46rem;margin:2rem auto;color:#222}
h1{margin-bottom:0}.date{color:#777;margin-top:.2rem}
blockquote{margin:.6rem 0;padding:.4rem .8rem;border-left:4px solid #ffeb3b}
.page{font-size:.8rem;color:#777;text-transform:uppercase}
@media print{body{margin:0}}`

// HTML writes a self-contained printable page.
func HTML(w io.Writer, in Input) error {
	body := element(atom.Body, nil,
		element(atom.H1, nil, text(in.title())),
		element(atom.P, attrs("class", "date"), text(in.Date.Format(dateLayout))),
	)

	if len(in.Bookmarks) > 0 {
		list := element(atom.Ul, nil)
		for _, p := range in.Bookmarks {
			list.AppendChild(element(atom.Li, nil, text(fmt.Sprintf("Page %d", p))))
		}
		body.AppendChild(element(atom.H2, nil, text("Bookmarks")))
		body.AppendChild(list)
	}
	if len(in.Highlights) > 0 {
		body.AppendChild(element(atom.H2, nil, text("Highlights")))
		for _, h := range in.Highlights {
			style := ""
			if h.Colour != "" {
				style = "border-left-color:" + h.Colour
			}
			body.AppendChild(element(atom.Blockquote, attrs("style", style),
				element(atom.Div, attrs("class", "page"), text(fmt.Sprintf("Page %d", h.Page))),
				text(h.Text),
			))
		}
	}
	if len(in.Notes) > 0 {
		body.AppendChild(element(atom.H2, nil, text("Notes")))
		for _, n := range in.Notes {
			body.AppendChild(element(atom.H3, nil, text(fmt.Sprintf("Page %d", n.Page))))
			body.AppendChild(element(atom.P, nil, text(n.Text)))
		}
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(element(atom.Html, nil,
		element(atom.Head, nil,
			element(atom.Meta, attrs("charset", "utf-8")),
			element(atom.Title, nil, text(in.title())),
			element(atom.Style, nil, text(printCSS)),
		),
		body,
	))
	return html.Render(w, doc)
}

func element(a atom.Atom, attr []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attr}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// attrs builds attributes from key/value pairs, skipping empty values.
func attrs(kv ...string) []html.Attribute {
	var out []html.Attribute
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		out = append(out, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return out
}
