package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/model"
	"news_dispatch/internal/session"
)

const (
	cmdStart       = "start"
	cmdHelp        = "help"
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdLink        = "link"
	cmdStatus      = "status"
)

const (
	textWelcome = `✨ You are subscribed to company news!

Commands:
/subscribe — subscribe
/unsubscribe — unsubscribe
/link — link your Yandex Messenger account
/help — help`

	textHelp = `Available commands:

/start — start and subscribe
/subscribe — subscribe to news
/unsubscribe — unsubscribe from news
/link — link your Yandex Messenger account
/status — show subscription status
/help — this message

📰 News arrive automatically from the company portal.`

	textLinkPrompt    = "Send your Yandex Messenger login (for example, name@company.com)."
	textStoreError    = "Something went wrong. Please try again later."
	textSubscribed    = "✅ You are subscribed to news."
	textUnsubscribed  = "❌ You unsubscribed from news."
	textLinkUnknown   = "Login %s is not registered in Yandex Messenger. Send /start to the Yandex bot first, then use /link again."
	textLinkInvalid   = "That does not look like a login. Use /link to try again."
	textLinkConfirmed = "✅ Telegram account linked to %s."
	textNotRegistered = "You are not registered yet. Send /start first."
	textPrivateOnly   = "This bot works in private chats only."
)

func (b *Bot) subscriber(msg *tgbotapi.Message) *model.Subscriber {
	return &model.Subscriber{
		Channel:     model.ChannelTelegram,
		ExternalID:  userKey(msg.From),
		ChatID:      msg.Chat.ID,
		DisplayName: msg.From.UserName,
	}
}

// ensureSubscriber registers the sender on first contact without touching
// the subscription flag of a known one.
func (b *Bot) ensureSubscriber(ctx context.Context, msg *tgbotapi.Message) error {
	created, err := b.store.EnsureSubscriber(ctx, b.subscriber(msg))
	if err != nil {
		return err
	}
	if created {
		b.log.Info("subscriber registered", "channel", model.ChannelTelegram, "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
	}
	return nil
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.store.UpsertSubscriber(ctx, b.subscriber(msg)); err != nil {
		b.log.Error("upsert subscriber", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, textWelcome)
	out.ReplyMarkup = subscriptionKeyboard(true)
	b.send(out)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, textHelp)
}

func (b *Bot) handleSetActive(ctx context.Context, msg *tgbotapi.Message, active bool) {
	found, err := b.setActive(ctx, msg, active)
	if err != nil {
		b.log.Error("set active", "user_id", msg.From.ID, "active", active, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	if !found {
		b.log.Warn("set active on missing subscriber", "user_id", msg.From.ID, "active", active)
		b.reply(msg.Chat.ID, textNotRegistered)
		return
	}
	if active {
		b.reply(msg.Chat.ID, textSubscribed)
	} else {
		b.reply(msg.Chat.ID, textUnsubscribed)
	}
}

func (b *Bot) setActive(ctx context.Context, msg *tgbotapi.Message, active bool) (bool, error) {
	if err := b.ensureSubscriber(ctx, msg); err != nil {
		return false, err
	}
	return b.store.SetActive(ctx, model.ChannelTelegram, userKey(msg.From), active)
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.ensureSubscriber(ctx, msg); err != nil {
		b.log.Error("ensure subscriber", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	if err := b.sessions.Set(ctx, sessionKey(msg.From.ID), session.AwaitingLinkInput); err != nil {
		b.log.Error("start link session", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	b.reply(msg.Chat.ID, textLinkPrompt)
}

// handleLinkInput treats the message as the Yandex login, whatever it
// contains, and always ends the linking dialog.
func (b *Bot) handleLinkInput(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if err := b.sessions.Clear(ctx, sessionKey(msg.From.ID)); err != nil {
			b.log.Error("clear link session", "user_id", msg.From.ID, "error", err)
		}
	}()

	login, err := ParseLogin(msg.Text)
	if err != nil {
		b.reply(msg.Chat.ID, textLinkInvalid)
		return
	}

	if err := b.ensureSubscriber(ctx, msg); err != nil {
		b.log.Error("ensure subscriber", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}

	ok, err := b.store.Link(ctx, userKey(msg.From), login)
	if err != nil {
		b.log.Error("link accounts", "user_id", msg.From.ID, "login", login, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	if !ok {
		b.log.Info("link rejected, unknown login", "user_id", msg.From.ID, "login", login)
		b.reply(msg.Chat.ID, fmt.Sprintf(textLinkUnknown, login))
		return
	}
	b.log.Info("accounts linked", "user_id", msg.From.ID, "login", login)
	b.reply(msg.Chat.ID, fmt.Sprintf(textLinkConfirmed, login))
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.ensureSubscriber(ctx, msg); err != nil {
		b.log.Error("ensure subscriber", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	id := userKey(msg.From)
	active, err := b.store.IsActive(ctx, model.ChannelTelegram, id)
	if err != nil {
		b.log.Error("read status", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}
	links, err := b.store.ListLinks(ctx, id)
	if err != nil {
		b.log.Error("list links", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, textStoreError)
		return
	}

	logins := make([]string, len(links))
	for i, l := range links {
		logins[i] = l.YandexID
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, FormatStatus(active, logins))
	out.ReplyMarkup = subscriptionKeyboard(active)
	b.send(out)
}
