// Package bot implements the Telegram side: subscription commands, the
// account linking dialog and notification delivery.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/config"
	"news_dispatch/internal/metrics"
	"news_dispatch/internal/model"
	"news_dispatch/internal/session"
	"news_dispatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles Telegram user commands.
type Bot struct {
	api      telegramAPI
	store    storage.Registry
	sessions session.Store
	cfg      *config.Config
	log      *slog.Logger

	relayChannel int64
	relayOut     Broadcaster
	relays       sync.WaitGroup
}

// New creates a Bot with the given Telegram token, registry, session store
// and config.
func New(token string, store storage.Registry, sessions session.Store, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: create bot api: %w", model.ErrConfiguration, err)
	}

	return &Bot{
		api:      api,
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Sender returns the fan-out sender sharing this bot's API client.
func (b *Bot) Sender() *Sender {
	return NewSender(b.api, b.log)
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled
// and running channel relays have finished.
func (b *Bot) Run(ctx context.Context) {
	defer b.relays.Wait()
	b.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: cmdStart, Description: "Start and subscribe"},
		tgbotapi.BotCommand{Command: cmdSubscribe, Description: "Subscribe to news"},
		tgbotapi.BotCommand{Command: cmdUnsubscribe, Description: "Unsubscribe from news"},
		tgbotapi.BotCommand{Command: cmdLink, Description: "Link a Yandex Messenger account"},
		tgbotapi.BotCommand{Command: cmdStatus, Description: "Show subscription status"},
		tgbotapi.BotCommand{Command: cmdHelp, Description: "Help"},
	)
	if _, err := b.api.Request(cmds); err != nil {
		b.log.Warn("register commands", "error", err)
	}
}

// handleUpdate processes one update. Failures are logged and never stop
// the polling loop.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in update handler", "update_id", update.UpdateID, "panic", r)
		}
	}()

	if update.ChannelPost != nil {
		b.handleChannelPost(ctx, update.ChannelPost)
		return
	}
	if update.CallbackQuery != nil {
		if update.CallbackQuery.From != nil && !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	// Subscribers are keyed by user and deliveries go to their chat, so
	// one chat must belong to one user.
	if !msg.Chat.IsPrivate() {
		if msg.IsCommand() {
			b.reply(msg.Chat.ID, textPrivateOnly)
		}
		return
	}

	key := sessionKey(msg.From.ID)
	st, err := b.sessions.Get(ctx, key)
	if err != nil {
		b.log.Error("read session", "user_id", msg.From.ID, "error", err)
	}
	if st == session.AwaitingLinkInput {
		b.handleLinkInput(ctx, msg)
		return
	}

	if !msg.IsCommand() {
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID, "user_id", msg.From.ID)
	metrics.CommandsHandled.WithLabelValues(string(model.ChannelTelegram), cmd).Inc()

	switch cmd {
	case cmdStart:
		b.handleStart(ctx, msg)
	case cmdHelp:
		b.handleHelp(chatID)
	case cmdSubscribe:
		b.handleSetActive(ctx, msg, true)
	case cmdUnsubscribe:
		b.handleSetActive(ctx, msg, false)
	case cmdLink:
		b.handleLink(ctx, msg)
	case cmdStatus:
		b.handleStatus(ctx, msg)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func sessionKey(userID int64) string {
	return session.Key(string(model.ChannelTelegram), strconv.FormatInt(userID, 10))
}

func userKey(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}
