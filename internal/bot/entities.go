package bot

import (
	"html"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageHTML renders message text with its formatting entities as
// Telegram HTML. Entity offsets count UTF-16 code units. Entities that fall
// outside the text or have no HTML form are dropped.
func MessageHTML(text string, entities []tgbotapi.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	opens := make(map[int][]string)
	closes := make(map[int][]string)
	for _, e := range entities {
		openTag, closeTag := entityTags(e)
		start, end := e.Offset, e.Offset+e.Length
		if openTag == "" || start < 0 || start >= end || end > len(units) {
			continue
		}
		opens[start] = append(opens[start], openTag)
		// Later entities nest inside earlier ones, so they close first.
		closes[end] = append([]string{closeTag}, closes[end]...)
	}

	var b strings.Builder
	for i := 0; i <= len(units); i++ {
		for _, tag := range closes[i] {
			b.WriteString(tag)
		}
		for _, tag := range opens[i] {
			b.WriteString(tag)
		}
		if i == len(units) {
			break
		}
		r := rune(units[i])
		if utf16.IsSurrogate(r) && i+1 < len(units) {
			r = utf16.DecodeRune(r, rune(units[i+1]))
			i++
		}
		b.WriteString(escape(string(r)))
	}
	return b.String()
}

func entityTags(e tgbotapi.MessageEntity) (string, string) {
	switch e.Type {
	case "bold":
		return "<b>", "</b>"
	case "italic":
		return "<i>", "</i>"
	case "underline":
		return "<u>", "</u>"
	case "strikethrough":
		return "<s>", "</s>"
	case "code":
		return "<code>", "</code>"
	case "pre":
		return "<pre>", "</pre>"
	case "text_link":
		if e.URL == "" {
			return "", ""
		}
		return `<a href="` + html.EscapeString(e.URL) + `">`, "</a>"
	}
	return "", ""
}
