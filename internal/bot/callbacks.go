package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/metrics"
	"news_dispatch/internal/model"
)

// Inline button payloads.
const (
	cbSubscribe   = "sub:on"
	cbUnsubscribe = "sub:off"
	cbLink        = "link:start"
)

func subscriptionKeyboard(active bool) tgbotapi.InlineKeyboardMarkup {
	toggle := tgbotapi.NewInlineKeyboardButtonData("Unsubscribe", cbUnsubscribe)
	if !active {
		toggle = tgbotapi.NewInlineKeyboardButtonData("Subscribe", cbSubscribe)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			toggle,
			tgbotapi.NewInlineKeyboardButtonData("Link Yandex account", cbLink),
		),
	)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil || !cb.Message.Chat.IsPrivate() {
		return
	}

	b.log.Info("callback",
		"data", cb.Data,
		"chat_id", cb.Message.Chat.ID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)
	metrics.CommandsHandled.WithLabelValues(string(model.ChannelTelegram), "callback:"+cb.Data).Inc()

	// Handlers only need the sender and the chat.
	msg := &tgbotapi.Message{From: cb.From, Chat: cb.Message.Chat}

	switch cb.Data {
	case cbSubscribe:
		b.handleSetActive(ctx, msg, true)
	case cbUnsubscribe:
		b.handleSetActive(ctx, msg, false)
	case cbLink:
		b.handleLink(ctx, msg)
	}
}
