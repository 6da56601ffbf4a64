package yandex

import (
	"context"
	"log/slog"
)

type textSender interface {
	SendText(ctx context.Context, login, text string, keyboard []Button) error
}

// Sender delivers messages to Messenger logins for the fan-out. Every
// message carries the same keyboard.
type Sender struct {
	client   textSender
	keyboard []Button
	log      *slog.Logger
}

// NewSender creates a Sender.
func NewSender(client textSender, keyboard []Button, log *slog.Logger) *Sender {
	return &Sender{client: client, keyboard: keyboard, log: log}
}

// Send delivers text to login.
func (s *Sender) Send(ctx context.Context, login, text string) error {
	if err := s.client.SendText(ctx, login, text, s.keyboard); err != nil {
		s.log.Error("send message", "login", login, "error", err)
		return err
	}
	return nil
}
