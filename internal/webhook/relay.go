package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"news_dispatch/internal/yandex"
)

const relayDownloads = 4

// FileAPI downloads attachments and uploads images.
type FileAPI interface {
	GetFile(ctx context.Context, fileID string) ([]byte, error)
	SendImage(ctx context.Context, login string, image []byte) error
}

// Relay forwards group chat messages to the operator login: images first,
// then the text as is.
type Relay struct {
	files    FileAPI
	replies  Replier
	operator string
	log      *slog.Logger
}

// NewRelay creates a Relay. An empty operator disables relaying.
func NewRelay(files FileAPI, replies Replier, operator string, log *slog.Logger) *Relay {
	return &Relay{files: files, replies: replies, operator: operator, log: log}
}

// Forward relays one group update.
func (r *Relay) Forward(ctx context.Context, u yandex.Update) error {
	if r.operator == "" {
		r.log.Debug("group message dropped, no operator", "update_id", u.UpdateID, "chat_id", u.Chat.ID)
		return nil
	}

	ids := u.FileIDs()
	images := make([][]byte, len(ids))
	var g errgroup.Group
	g.SetLimit(relayDownloads)
	for i, id := range ids {
		g.Go(func() error {
			data, err := r.files.GetFile(ctx, id)
			if err != nil {
				r.log.Warn("download attachment", "file_id", id, "update_id", u.UpdateID, "error", err)
				return nil
			}
			images[i] = data
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, img := range images {
		if len(img) == 0 {
			continue
		}
		if err := r.files.SendImage(ctx, r.operator, img); err != nil {
			errs = append(errs, fmt.Errorf("relay image %s: %w", ids[i], err))
		}
	}

	if text := u.RelayText(); text != "" {
		if err := r.replies.Deliver(ctx, r.operator, text); err != nil {
			errs = append(errs, fmt.Errorf("relay text: %w", err))
		}
	}

	r.log.Info("group message relayed", "update_id", u.UpdateID, "from", u.From.Login, "images", len(ids))
	return errors.Join(errs...)
}
