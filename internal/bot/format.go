package bot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/model"
)

var categoryEmoji = map[string]string{
	"Anniversary time": "🎉",
	"Career upgrade":   "🚀",
	"Birthday":         "🎂",
	"General":          "📰",
}

// FormatNotification renders a news item as a Telegram HTML message.
func FormatNotification(item model.NewsItem) string {
	emoji, ok := categoryEmoji[item.Category]
	if !ok {
		emoji = "📌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", emoji, escape(item.Title))
	if item.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(escape(item.Body))
	}
	b.WriteString("\n")
	if item.Category != "" {
		fmt.Fprintf(&b, "\n🏷️ <i>Category: %s</i>", escape(item.Category))
	}
	if item.Link != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">Read more</a>", html.EscapeString(item.Link))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStatus describes the subscription state and linked accounts.
func FormatStatus(active bool, logins []string) string {
	var b strings.Builder
	if active {
		b.WriteString("Telegram news: ✅ subscribed")
	} else {
		b.WriteString("Telegram news: ❌ not subscribed")
	}
	if len(logins) == 0 {
		b.WriteString("\nYandex Messenger: not linked. Use /link to connect it.")
		return b.String()
	}
	b.WriteString("\nLinked Yandex Messenger accounts:")
	for _, l := range logins {
		fmt.Fprintf(&b, "\n• %s", l)
	}
	return b.String()
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
