// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"time"
)

// Channel identifies a push-notification channel.
type Channel string

// Supported channels. Telegram is the primary channel, Yandex Messenger the
// secondary one whose accounts are linked to a Telegram identity.
const (
	ChannelTelegram Channel = "telegram"
	ChannelYandex   Channel = "yandex"
)

// Channels lists every channel in delivery order.
var Channels = []Channel{ChannelTelegram, ChannelYandex}

// Error kinds. Producers wrap concrete errors with one of these so that
// loop boundaries can decide between skip, retry-next-pass and fatal.
var (
	ErrTransport     = errors.New("transport error")
	ErrContent       = errors.New("content error")
	ErrPersistence   = errors.New("persistence error")
	ErrConfiguration = errors.New("configuration error")
)

// NewsItem is a normalized item produced by a content source.
type NewsItem struct {
	ID          string
	Title       string
	Body        string
	Category    string
	Link        string
	PublishedAt string
}

// Watermark is the last delivered item id of a content source.
type Watermark struct {
	Source string
	LastID string
	SentAt time.Time
}

// Subscriber is a recipient registered on one channel.
//
// ExternalID is the Telegram user id or the Yandex login. ChatID is only
// meaningful for Telegram subscribers.
type Subscriber struct {
	Channel     Channel
	ExternalID  string
	ChatID      int64
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
}

// IdentityLink associates a Telegram user with a Yandex login.
type IdentityLink struct {
	TelegramID string
	YandexID   string
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of a news item a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single delivery rule applied to every news item.
type Filter struct {
	Kind  FilterKind  `koanf:"kind"`
	Scope FilterScope `koanf:"scope"`
	Value string      `koanf:"value"`
}
