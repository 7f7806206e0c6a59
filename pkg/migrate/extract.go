package migrate

import (
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"
)

// Page is the readable part of a fetched HTML page.
type Page struct {
	Title    string
	Markdown string
}

// Extract parses an HTML page and renders its headings, paragraphs, list
// items, quotes and preformatted blocks as plain Markdown. The first
// <article>, else <main>, else <body> is used as the content root.
func Extract(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse HTML")
	}

	root := doc
	for _, tag := range []string{"article", "main", "body"} {
		if n := findElement(doc, tag); n != nil {
			root = n
			break
		}
	}

	var blocks []string
	collectBlocks(root, &blocks)
	return &Page{
		Title:    extractTitle(doc),
		Markdown: strings.Join(blocks, "\n\n"),
	}, nil
}

func extractTitle(doc *html.Node) string {
	if n := findElement(doc, "title"); n != nil {
		if t := inlineText(n); t != "" {
			return t
		}
	}
	if n := findElement(doc, "h1"); n != nil {
		return inlineText(n)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// collectBlocks appends one Markdown block per readable element under n.
func collectBlocks(n *html.Node, out *[]string) {
	if n.Type == html.ElementNode {
		if isSkippedElement(n.Data) {
			return
		}
		if level := headingLevel(n.Data); level > 0 {
			appendBlock(out, strings.Repeat("#", level)+" ", inlineText(n))
			return
		}
		switch n.Data {
		case "p":
			appendBlock(out, "", inlineText(n))
			return
		case "li":
			appendBlock(out, "- ", inlineText(n))
			return
		case "pre":
			if code := strings.Trim(rawText(n), "\n"); strings.TrimSpace(code) != "" {
				*out = append(*out, "```\n"+code+"\n```")
			}
			return
		case "blockquote":
			var inner []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				collectBlocks(c, &inner)
			}
			if len(inner) == 0 {
				appendBlock(&inner, "", inlineText(n))
			}
			for _, b := range inner {
				*out = append(*out, "> "+strings.ReplaceAll(b, "\n", "\n> "))
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectBlocks(c, out)
	}
}

func appendBlock(out *[]string, prefix, text string) {
	if text != "" {
		*out = append(*out, prefix+text)
	}
}

// inlineText returns the visible text under n with whitespace collapsed.
func inlineText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if isSkippedElement(n.Data) {
				return
			}
			if n.Data == "br" {
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// rawText returns the text under n verbatim.
func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// isSkippedElement returns true for elements that never carry article text.
func isSkippedElement(tag string) bool {
	skipped := map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"template": true,
		"iframe":   true,
		"embed":    true,
		"object":   true,
		"svg":      true,
		"nav":      true,
		"header":   true,
		"footer":   true,
		"aside":    true,
		"form":     true,
		"button":   true,
	}
	return skipped[tag]
}
