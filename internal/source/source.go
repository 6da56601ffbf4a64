// Package source defines content sources that produce news items and the
// text normalization shared by them.
package source

import (
	"context"
	"net/http"

	"news_dispatch/internal/model"
)

// Source produces news items newer than a given id.
type Source interface {
	// Code is the stable source key under which the watermark is stored.
	Code() string
	// DefaultID is the watermark used before anything was delivered.
	DefaultID() string
	// BuildID formats a raw item number as a news id of this source.
	BuildID(n int64) string
	// FetchDelta returns items with an id strictly greater than lastID in
	// ascending id order.
	FetchDelta(ctx context.Context, lastID string) ([]model.NewsItem, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultCategory is used for items without a category.
const DefaultCategory = "General"
