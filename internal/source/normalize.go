package source

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockTags start a new line in normalized text.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"ul": true, "ol": true, "li": true, "pre": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "hr": true,
}

// NormalizeHTML converts an HTML fragment to plain text, one line per block
// element, with whitespace collapsed inside each line. Entity-escaped markup,
// as Reddit returns it without raw_json, is unescaped first.
func NormalizeHTML(s string) string {
	if strings.Contains(s, "&lt;") {
		s = html.UnescapeString(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	writeText(&b, doc.Selection, false)

	var lines []string
	for _, l := range strings.Split(b.String(), "\n") {
		if t := strings.Join(strings.Fields(l), " "); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// writeText appends every text node under sel. Source newlines only survive
// inside pre.
func writeText(b *strings.Builder, sel *goquery.Selection, pre bool) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		switch name := goquery.NodeName(c); {
		case name == "#text":
			t := c.Text()
			if !pre {
				t = strings.ReplaceAll(t, "\n", " ")
			}
			b.WriteString(t)
		case name == "br":
			b.WriteByte('\n')
		case name == "td" || name == "th":
			b.WriteByte(' ')
			writeText(b, c, pre)
			b.WriteByte(' ')
		case blockTags[name]:
			b.WriteByte('\n')
			writeText(b, c, pre || name == "pre")
			b.WriteByte('\n')
		default:
			writeText(b, c, pre)
		}
	})
}
