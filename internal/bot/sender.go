package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_dispatch/internal/model"
)

// Sender delivers HTML notifications to Telegram chats. Recipients are chat
// ids in decimal form.
type Sender struct {
	api telegramAPI
	log *slog.Logger
}

// NewSender creates a Sender over an existing API client.
func NewSender(api telegramAPI, log *slog.Logger) *Sender {
	return &Sender{api: api, log: log}
}

// Send sends text to one chat. The Telegram client does not accept a
// context; cancellation is checked before the call.
func (s *Sender) Send(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid chat id %q", model.ErrContent, recipient)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		s.log.Error("telegram send", "chat_id", chatID, "error", err)
		return fmt.Errorf("%w: telegram send: %w", model.ErrTransport, err)
	}
	return nil
}
