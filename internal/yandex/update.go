package yandex

import (
	"bytes"
	"encoding/json"
	"fmt"

	"news_dispatch/internal/model"
)

// Chat types reported in inbound updates.
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
	ChatChannel = "channel"
)

// Update is one inbound message delivered to the webhook.
type Update struct {
	UpdateID          int64              `json:"update_id"`
	MessageID         int64              `json:"message_id"`
	Timestamp         int64              `json:"timestamp"`
	Text              string             `json:"text"`
	From              User               `json:"from"`
	Chat              Chat               `json:"chat"`
	Images            [][]Image          `json:"images,omitempty"`
	ForwardedMessages []ForwardedMessage `json:"forwarded_messages,omitempty"`
}

// User is the author of an update.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Robot       bool   `json:"robot"`
}

// Chat is the conversation an update arrived in.
type Chat struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Image is one size variant of an attached picture. Variants are ordered
// from the smallest to the largest.
type Image struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// ForwardedMessage is a message quoted inside an update.
type ForwardedMessage struct {
	Text   string    `json:"text"`
	Images [][]Image `json:"images,omitempty"`
}

// RelayText returns the update text, or the text of the first forwarded
// message when the update has none.
func (u Update) RelayText() string {
	if u.Text == "" && len(u.ForwardedMessages) > 0 {
		return u.ForwardedMessages[0].Text
	}
	return u.Text
}

// FileIDs returns the largest variant of every attached image. Images of
// the first forwarded message are used when the update carries none.
func (u Update) FileIDs() []string {
	images := u.Images
	if len(images) == 0 && len(u.ForwardedMessages) > 0 {
		images = u.ForwardedMessages[0].Images
	}
	var ids []string
	for _, variants := range images {
		if len(variants) == 0 {
			continue
		}
		if id := variants[len(variants)-1].FileID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseUpdates decodes a webhook body. Both the {"updates": [...]}
// envelope and a single message object are accepted.
func ParseUpdates(body []byte) ([]Update, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty webhook body", model.ErrContent)
	}

	var envelope struct {
		Updates *[]Update `json:"updates"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode webhook body: %w", model.ErrContent, err)
	}
	if envelope.Updates != nil {
		return *envelope.Updates, nil
	}

	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("%w: decode update: %w", model.ErrContent, err)
	}
	if u.From.Login == "" {
		return nil, fmt.Errorf("%w: update without sender login", model.ErrContent)
	}
	return []Update{u}, nil
}
