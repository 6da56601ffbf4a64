// Package webhook serves the Yandex Messenger webhook: it acknowledges
// inbound updates at once and interprets them on a bounded worker pool.
package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"news_dispatch/internal/metrics"
	"news_dispatch/internal/model"
	"news_dispatch/internal/storage"
	"news_dispatch/internal/yandex"
)

type command string

const (
	cmdStart         command = "start"
	cmdLink          command = "link"
	cmdHelp          command = "help"
	cmdSubscribeTG   command = "subscribe_tg"
	cmdUnsubscribeTG command = "unsubscribe_tg"
	cmdSubscribeYX   command = "subscribe_yx"
	cmdUnsubscribeYX command = "unsubscribe_yx"
	cmdStatus        command = "status"
)

// Matching is exact and case sensitive. Keyboard captions are aliases.
var commands = map[string]command{
	"/start":                          cmdStart,
	"/link":                           cmdLink,
	"/help":                           cmdHelp,
	"/subscribe_tg":                   cmdSubscribeTG,
	"/unsubscribe_tg":                 cmdUnsubscribeTG,
	"/subscribe_yx":                   cmdSubscribeYX,
	"/unsubscribe_yx":                 cmdUnsubscribeYX,
	"/status":                         cmdStatus,
	yandex.CaptionSubscribeTelegram:   cmdSubscribeTG,
	yandex.CaptionUnsubscribeTelegram: cmdUnsubscribeTG,
	yandex.CaptionSubscribeYandex:     cmdSubscribeYX,
	yandex.CaptionUnsubscribeYandex:   cmdUnsubscribeYX,
	yandex.CaptionStatus:              cmdStatus,
}

const (
	textWelcome = `✨ Welcome to the **company news bot**!

Here you can choose where corporate news is delivered: Telegram, Yandex Messenger or both.`

	textHelp = `Available commands:

/subscribe_tg — subscribe to news in Telegram
/unsubscribe_tg — unsubscribe from news in Telegram
/subscribe_yx — subscribe to news in Yandex Messenger
/unsubscribe_yx — unsubscribe from news in Yandex Messenger
/status — current subscriptions
/help — this message`

	textLinkRequired   = "To use the bot, link your Telegram account first! Send /link to the Telegram bot and enter your login.\nYour login: %s"
	textAlreadyLinked  = "Your account is already linked to Telegram."
	textSubscribedTG   = "✅ You subscribed to news in Telegram!"
	textUnsubscribedTG = "❌ You unsubscribed from news in Telegram."
	textSubscribedYX   = "✅ You subscribed to news in Yandex Messenger!"
	textUnsubscribedYX = "❌ You unsubscribed from news in Yandex Messenger."
	textNotRegistered  = "Subscriber not found. Send /start and try again."
)

// Replier delivers a reply to one Messenger login.
type Replier interface {
	Deliver(ctx context.Context, recipient, text string) error
}

// CommandRouter interprets inbound Messenger updates: commands from private
// chats and relays from group chats.
type CommandRouter struct {
	store   storage.Registry
	replies Replier
	relay   *Relay
	log     *slog.Logger
}

// NewCommandRouter creates a CommandRouter. A nil relay ignores group chats.
func NewCommandRouter(store storage.Registry, replies Replier, relay *Relay, log *slog.Logger) *CommandRouter {
	return &CommandRouter{store: store, replies: replies, relay: relay, log: log}
}

// Handle processes one update.
func (r *CommandRouter) Handle(ctx context.Context, u yandex.Update) error {
	if u.From.Login == "" {
		return fmt.Errorf("%w: update %d has no sender login", model.ErrContent, u.UpdateID)
	}
	if u.From.Robot {
		return nil
	}

	switch u.Chat.Type {
	case yandex.ChatPrivate, "":
		return r.handlePrivate(ctx, u)
	case yandex.ChatGroup:
		if r.relay == nil {
			return nil
		}
		return r.relay.Forward(ctx, u)
	default:
		r.log.Debug("update ignored", "update_id", u.UpdateID, "chat_type", u.Chat.Type)
		return nil
	}
}

func (r *CommandRouter) handlePrivate(ctx context.Context, u yandex.Update) error {
	login := u.From.Login
	cmd, ok := commands[u.Text]
	if !ok {
		cmd = cmdHelp
	}
	r.log.Debug("command", "cmd", cmd, "login", login, "update_id", u.UpdateID)
	metrics.CommandsHandled.WithLabelValues(string(model.ChannelYandex), string(cmd)).Inc()

	created, err := r.store.EnsureSubscriber(ctx, &model.Subscriber{
		Channel:     model.ChannelYandex,
		ExternalID:  login,
		DisplayName: u.From.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("ensure subscriber %s: %w", login, err)
	}
	if created {
		r.log.Info("subscriber registered", "channel", model.ChannelYandex, "login", login)
	}

	switch cmd {
	case cmdStart:
		return r.handleStart(ctx, login)
	case cmdHelp:
		return r.reply(ctx, login, textHelp)
	}

	tgID, linked, err := r.store.LinkedCounterpart(ctx, login)
	if err != nil {
		return fmt.Errorf("resolve link of %s: %w", login, err)
	}
	if !linked {
		return r.reply(ctx, login, fmt.Sprintf(textLinkRequired, login))
	}

	switch cmd {
	case cmdLink:
		return r.reply(ctx, login, textAlreadyLinked)
	case cmdSubscribeTG:
		return r.setActive(ctx, login, model.ChannelTelegram, tgID, true, textSubscribedTG)
	case cmdUnsubscribeTG:
		return r.setActive(ctx, login, model.ChannelTelegram, tgID, false, textUnsubscribedTG)
	case cmdSubscribeYX:
		return r.setActive(ctx, login, model.ChannelYandex, login, true, textSubscribedYX)
	case cmdUnsubscribeYX:
		return r.setActive(ctx, login, model.ChannelYandex, login, false, textUnsubscribedYX)
	case cmdStatus:
		return r.handleStatus(ctx, login, tgID)
	}
	return nil
}

// handleStart activates a linked subscriber. Unlinked ones only get the
// linking instructions.
func (r *CommandRouter) handleStart(ctx context.Context, login string) error {
	_, linked, err := r.store.LinkedCounterpart(ctx, login)
	if err != nil {
		return fmt.Errorf("resolve link of %s: %w", login, err)
	}
	if !linked {
		return r.reply(ctx, login, fmt.Sprintf(textLinkRequired, login))
	}
	if err := r.store.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelYandex, ExternalID: login}); err != nil {
		return fmt.Errorf("activate %s: %w", login, err)
	}
	return r.reply(ctx, login, textWelcome)
}

func (r *CommandRouter) setActive(ctx context.Context, login string, ch model.Channel, id string, active bool, text string) error {
	found, err := r.store.SetActive(ctx, ch, id, active)
	if err != nil {
		return fmt.Errorf("set %s subscription of %s: %w", ch, id, err)
	}
	if !found {
		r.log.Warn("subscriber missing", "channel", ch, "external_id", id, "login", login)
		return r.reply(ctx, login, textNotRegistered)
	}
	r.log.Info("subscription changed", "channel", ch, "external_id", id, "active", active, "login", login)
	return r.reply(ctx, login, text)
}

func (r *CommandRouter) handleStatus(ctx context.Context, login, tgID string) error {
	tg, err := r.store.IsActive(ctx, model.ChannelTelegram, tgID)
	if err != nil {
		return fmt.Errorf("read telegram status: %w", err)
	}
	yx, err := r.store.IsActive(ctx, model.ChannelYandex, login)
	if err != nil {
		return fmt.Errorf("read messenger status: %w", err)
	}
	return r.reply(ctx, login, FormatStatus(tg, yx))
}

func (r *CommandRouter) reply(ctx context.Context, login, text string) error {
	if err := r.replies.Deliver(ctx, login, text); err != nil {
		return fmt.Errorf("reply to %s: %w", login, err)
	}
	return nil
}

// FormatStatus describes both subscriptions of a linked pair.
func FormatStatus(telegram, messenger bool) string {
	return fmt.Sprintf("Your subscriptions:\n\nTelegram: %s\nYandex Messenger: %s", statusWord(telegram), statusWord(messenger))
}

func statusWord(active bool) string {
	if active {
		return "active ✅"
	}
	return "inactive ❌"
}
