package dom

import (
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "fieldset": {}, "figcaption": {}, "figure": {}, "footer": {},
	"form": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "header": {},
	"hr": {}, "li": {}, "main": {}, "nav": {}, "ol": {}, "p": {}, "pre": {}, "section": {},
	"table": {}, "tr": {}, "ul": {}, "body": {}, "html": {},
}

// VisibleText approximates innerText: text of rendered descendants, with
// whitespace collapsed inside lines and block boundaries kept as newlines.
func VisibleText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	collectVisible(n, &sb)

	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func collectVisible(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if Hidden(n) {
			return
		}
		if Tag(n) == "br" {
			sb.WriteByte('\n')
			return
		}
	}
	_, block := blockTags[Tag(n)]
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisible(c, sb)
	}
	if block {
		sb.WriteByte('\n')
	}
}

// TextContent concatenates every descendant text node, like textContent.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}
