package yandex

import (
	"fmt"
	"strings"

	"news_dispatch/internal/model"
)

// Keyboard captions. Pressing a button sends its caption back as text, so
// the webhook router accepts them as command aliases.
const (
	CaptionSubscribeTelegram   = "Subscribe to Telegram news"
	CaptionUnsubscribeTelegram = "Unsubscribe from Telegram news"
	CaptionSubscribeYandex     = "Subscribe to Yandex Messenger news"
	CaptionUnsubscribeYandex   = "Unsubscribe from Yandex Messenger news"
	CaptionStatus              = "Current subscriptions"
	CaptionLinkTelegram        = "Link Telegram account"
)

// Keyboard returns the command buttons attached to every message. The link
// button is added only when telegramBotURL is known.
func Keyboard(telegramBotURL string) []Button {
	kb := []Button{
		{Text: CaptionSubscribeTelegram},
		{Text: CaptionUnsubscribeTelegram},
		{Text: CaptionSubscribeYandex},
		{Text: CaptionUnsubscribeYandex},
		{Text: CaptionStatus},
	}
	if telegramBotURL != "" {
		kb = append(kb, Button{Text: CaptionLinkTelegram, URL: telegramBotURL})
	}
	return kb
}

var categoryEmoji = map[string]string{
	"Anniversary time": "🎉",
	"Career upgrade":   "🚀",
	"Birthday":         "🎂",
	"General":          "📰",
}

// FormatNotification renders a news item in Messenger markdown.
func FormatNotification(item model.NewsItem) string {
	emoji, ok := categoryEmoji[item.Category]
	if !ok {
		emoji = "📌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s**", emoji, item.Title)
	if item.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(item.Body)
	}
	b.WriteString("\n")
	if item.Category != "" {
		fmt.Fprintf(&b, "\n🏷️ Category: __%s__", item.Category)
	}
	if item.Link != "" {
		fmt.Fprintf(&b, "\n🔗 [Read more](%s)", item.Link)
	}
	return strings.TrimRight(b.String(), "\n")
}
