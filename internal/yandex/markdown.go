package yandex

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const markupSelector = "b, strong, i, em, s, strike, del, code, a, tg-emoji"

// MarkdownFromHTML converts Telegram HTML into Messenger markdown. Bold,
// italic, strikethrough, inline code and links keep their formatting; other
// tags are reduced to their text.
func MarkdownFromHTML(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}

	// Reverse document order converts children before their parents.
	nodes := doc.Find(markupSelector)
	for i := nodes.Length() - 1; i >= 0; i-- {
		s := nodes.Eq(i)
		s.ReplaceWithHtml(html.EscapeString(markdownFor(s)))
	}
	return strings.TrimSpace(doc.Find("body").Text())
}

func markdownFor(s *goquery.Selection) string {
	text := s.Text()
	switch goquery.NodeName(s) {
	case "b", "strong":
		return wrap(text, "**")
	case "i", "em":
		return wrap(text, "__")
	case "s", "strike", "del":
		return wrap(text, "~~")
	case "code":
		return wrap(text, "`")
	case "a":
		href, _ := s.Attr("href")
		if href == "" || strings.TrimSpace(text) == "" {
			return text
		}
		return "[" + text + "](" + href + ")"
	}
	return text
}

// wrap puts mark around text, leaving surrounding whitespace outside.
func wrap(text, mark string) string {
	core := strings.TrimSpace(text)
	if core == "" {
		return text
	}
	i := strings.Index(text, core)
	return text[:i] + mark + core + mark + text[i+len(core):]
}
