package research

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)
)

// maxHTMLDepth bounds recursion on pathological documents.
const maxHTMLDepth = 200

// skippedTags never contribute text.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "nav": true, "footer": true,
}

// blockMarkup is the text emitted around an element's children.
var blockMarkup = map[string][2]string{
	"h1":     {"\n\n# ", "\n\n"},
	"h2":     {"\n\n## ", "\n\n"},
	"h3":     {"\n\n### ", "\n\n"},
	"h4":     {"\n\n#### ", "\n\n"},
	"h5":     {"\n\n#### ", "\n\n"},
	"h6":     {"\n\n#### ", "\n\n"},
	"title":  {"# ", "\n\n"},
	"p":      {"\n\n", ""},
	"div":    {"\n\n", ""},
	"li":     {"\n- ", ""},
	"pre":    {"\n\n```\n", "\n```\n\n"},
	"strong": {"**", "**"},
	"b":      {"**", "**"},
}

// htmlToMarkdown converts a page to compact markdown. Tables survive as
// markdown tables since they carry most of what the workers extract.
func htmlToMarkdown(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	writeMarkdown(&sb, doc, 0)
	return cleanMarkdown(sb.String()), nil
}

func writeMarkdown(sb *strings.Builder, n *html.Node, depth int) {
	if depth > maxHTMLDepth {
		return
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text + " ")
		}
		return
	}

	var open, close string
	if n.Type == html.ElementNode {
		switch tag := n.Data; {
		case skippedTags[tag]:
			return
		case tag == "table":
			sb.WriteString("\n\n" + tableToMarkdown(n) + "\n\n")
			return
		case tag == "img":
			if alt := getAttr(n, "alt"); alt != "" {
				sb.WriteString("[Image: " + alt + "]")
			}
			return
		case tag == "br":
			sb.WriteString("\n")
			return
		case tag == "a":
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				open, close = "[", "]("+href+")"
			}
		default:
			m := blockMarkup[tag]
			open, close = m[0], m[1]
		}
	}

	sb.WriteString(open)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeMarkdown(sb, c, depth+1)
	}
	sb.WriteString(close)
}

// tableToMarkdown renders an HTML table, padding short rows. The first row
// becomes the header.
func tableToMarkdown(table *html.Node) string {
	var rows [][]string
	width := 0
	walkHTML(table, func(n *html.Node) bool {
		if !isElement(n, "tr") {
			return true
		}
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isElement(c, "td") || isElement(c, "th") {
				cells = append(cells, strings.ReplaceAll(getTextContent(c), "|", `\|`))
			}
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
			width = max(width, len(cells))
		}
		return false
	})
	if len(rows) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, r := range rows {
		r = append(r, make([]string, width-len(r))...)
		sb.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	return sb.String()
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// cleanMarkdown collapses blank-line and space runs and trims every line.
func cleanMarkdown(s string) string {
	s = spaceRunPattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = blankRunPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
