package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/fanout"
	"news_dispatch/internal/model"
	"news_dispatch/internal/yandex"
)

// Broadcaster delivers one message to many recipients.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string, recipients []string) fanout.Result
}

// RelayChannel forwards every post of the Telegram channel channelID to the
// active Messenger subscribers through out. The bot has to be an
// administrator of the channel to receive its posts.
func (b *Bot) RelayChannel(channelID int64, out Broadcaster) {
	b.relayChannel = channelID
	b.relayOut = out
}

// handleChannelPost relays one post in the background so a long broadcast
// does not hold up user commands. Albums arrive as one post per item and
// only the captioned item carries text, so an album is relayed once.
func (b *Bot) handleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	if b.relayOut == nil || post.Chat == nil || post.Chat.ID != b.relayChannel {
		return
	}
	text, entities := post.Text, post.Entities
	if text == "" {
		text, entities = post.Caption, post.CaptionEntities
	}
	if strings.TrimSpace(text) == "" {
		b.log.Debug("channel post without text skipped", "message_id", post.MessageID, "media_group_id", post.MediaGroupID)
		return
	}
	md := yandex.MarkdownFromHTML(MessageHTML(text, entities))

	b.relays.Go(func() {
		recipients, err := b.store.ActiveRecipients(ctx, model.ChannelYandex)
		if err != nil {
			b.log.Error("relay recipients", "message_id", post.MessageID, "error", err)
			return
		}
		res := b.relayOut.Broadcast(ctx, md, recipients)
		b.log.Info("channel post relayed",
			"message_id", post.MessageID,
			"media_group_id", post.MediaGroupID,
			"recipients", len(recipients),
			"delivered", res.Delivered,
			"failed", res.Failed,
		)
	})
}
