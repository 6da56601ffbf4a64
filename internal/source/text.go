package source

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
)

// BodyLimit is the maximum body length in characters before truncation.
const BodyLimit = 200

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "td": true, "th": true, "blockquote": true,
	"section": true, "article": true, "pre": true, "hr": true,
}

// CleanHTML converts portal HTML into a single line of plain text.
// Media and scripts are dropped, emoji spans are replaced by their
// character, mentions become @label, and whitespace is collapsed.
func CleanHTML(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}

	doc.Find("script, style, img, frame, iframe, video").Remove()

	doc.Find("span.an1").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("char")
		if v == "" {
			v = strings.TrimSpace(s.Text())
		}
		replaceWithText(s, v)
	})

	doc.Find("mention").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("label")
		if v == "" {
			v = strings.TrimSpace(s.Text())
		}
		if v != "" {
			v = "@" + v
		}
		replaceWithText(s, v)
	})

	var b strings.Builder
	for _, n := range doc.Nodes {
		collectText(n, &b)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func replaceWithText(s *goquery.Selection, text string) {
	if text == "" {
		s.Remove()
		return
	}
	s.ReplaceWithHtml(html.EscapeString(text))
}

func collectText(n *nethtml.Node, b *strings.Builder) {
	switch n.Type {
	case nethtml.TextNode:
		b.WriteString(n.Data)
		return
	case nethtml.ElementNode:
		if blockTags[n.Data] {
			b.WriteByte(' ')
			defer b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// Truncate shortens text to at most limit characters, cutting at the last
// space when there is one, and appends "...".
func Truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	cut := string(r[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		return cut[:i] + "..."
	}
	return cut + "..."
}
