package manuscript

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var multiNewline = regexp.MustCompile(`\n{3,}`)

// blockTags end a paragraph when converting HTML to text.
var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLToText converts stored scene HTML to plain text, keeping paragraph
// breaks as blank lines. Non-HTML input passes through unchanged apart from
// whitespace normalization.
func HTMLToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "br":
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteString("\n\n")
		}
	}
	walk(doc)

	out := multiNewline.ReplaceAllString(b.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// TextToHTML wraps plain-text paragraphs (separated by blank lines) in <p>
// tags for storage, escaping markup characters.
func TextToHTML(text string) string {
	paras := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(p))
		b.WriteString("</p>")
	}
	return b.String()
}
