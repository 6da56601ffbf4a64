// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"news_dispatch/internal/model"
)

// ErrNotMonotonic is returned when a watermark advance would not move the
// watermark strictly forward.
var ErrNotMonotonic = errors.New("watermark must strictly increase")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// WatermarkStore persists the last delivered item id per content source.
type WatermarkStore interface {
	GetLastID(ctx context.Context, source string) (string, bool, error)
	InitWatermark(ctx context.Context, source, defaultID string) error
	AdvanceWatermark(ctx context.Context, source, newID, expectedOldID string) (bool, error)
}

// Registry persists subscribers and cross-channel identity links.
type Registry interface {
	UpsertSubscriber(ctx context.Context, sub *model.Subscriber) error
	EnsureSubscriber(ctx context.Context, sub *model.Subscriber) (bool, error)
	GetSubscriber(ctx context.Context, ch model.Channel, externalID string) (*model.Subscriber, error)
	SetActive(ctx context.Context, ch model.Channel, externalID string, active bool) (bool, error)
	IsActive(ctx context.Context, ch model.Channel, externalID string) (bool, error)
	Exists(ctx context.Context, ch model.Channel, externalID string) (bool, error)
	ActiveRecipients(ctx context.Context, ch model.Channel) ([]string, error)

	Link(ctx context.Context, telegramID, yandexLogin string) (bool, error)
	LinkedCounterpart(ctx context.Context, yandexLogin string) (string, bool, error)
	ListLinks(ctx context.Context, telegramID string) ([]model.IdentityLink, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	WatermarkStore
	Registry

	Ping(ctx context.Context) error
	Close() error
}
