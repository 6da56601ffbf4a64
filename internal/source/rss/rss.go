// Package rss reads news from an RSS or Atom feed whose items carry a
// numeric article id in their GUID or link.
package rss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"news_dispatch/internal/model"
	"news_dispatch/internal/source"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Options configures a Feed.
type Options struct {
	URL string
	// Code is the watermark key, "rss" when empty.
	Code string
	// IDPrefix is the news id prefix, "rss" when empty.
	IDPrefix string
}

// Feed is a source.Source reading a single feed URL.
type Feed struct {
	opts   Options
	client source.HTTPClient
	logger *slog.Logger
}

// New creates a Feed with the given HTTP client.
func New(opts Options, client source.HTTPClient, logger *slog.Logger) *Feed {
	if opts.Code == "" {
		opts.Code = "rss"
	}
	if opts.IDPrefix == "" {
		opts.IDPrefix = "rss"
	}
	return &Feed{opts: opts, client: client, logger: logger}
}

// Code returns the watermark key of the feed.
func (f *Feed) Code() string { return f.opts.Code }

// DefaultID returns the initial watermark.
func (f *Feed) DefaultID() string { return f.BuildID(0) }

// BuildID formats an article number as a news id.
func (f *Feed) BuildID(n int64) string { return model.BuildNewsID(f.opts.IDPrefix, n) }

// FetchDelta returns feed items newer than lastID, oldest first. Items
// without a numeric article id are skipped.
func (f *Feed) FetchDelta(ctx context.Context, lastID string) ([]model.NewsItem, error) {
	_, lastN, err := model.ParseNewsID(lastID)
	if err != nil {
		return nil, fmt.Errorf("parse last id: %w", err)
	}

	feed, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int64
		item model.NewsItem
	}
	seen := make(map[int64]bool)
	var fresh []numbered
	for _, it := range feed.Items {
		n, err := ArticleNumber(it)
		if err != nil {
			f.logger.Debug("skipping feed item", "guid", it.GUID, "link", it.Link, "error", err)
			continue
		}
		if n <= lastN || seen[n] {
			continue
		}
		seen[n] = true
		fresh = append(fresh, numbered{n: n, item: f.normalize(n, it)})
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].n < fresh[j].n })
	items := make([]model.NewsItem, len(fresh))
	for i, fr := range fresh {
		items[i] = fr.item
	}
	return items, nil
}

func (f *Feed) fetch(ctx context.Context) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsDispatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", model.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrTransport, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", model.ErrContent, err)
	}
	return feed, nil
}

func (f *Feed) normalize(n int64, it *gofeed.Item) model.NewsItem {
	category := source.DefaultCategory
	if len(it.Categories) > 0 && strings.TrimSpace(it.Categories[0]) != "" {
		category = strings.TrimSpace(it.Categories[0])
	}
	body := it.Description
	if body == "" {
		body = it.Content
	}
	return model.NewsItem{
		ID:          f.BuildID(n),
		Title:       strings.TrimSpace(it.Title),
		Body:        source.Truncate(source.CleanHTML(body), source.BodyLimit),
		Category:    category,
		Link:        it.Link,
		PublishedAt: it.Published,
	}
}

// ArticleNumber extracts the last run of digits from the item GUID, or
// from its link when the GUID has none.
func ArticleNumber(it *gofeed.Item) (int64, error) {
	for _, s := range []string{it.GUID, it.Link} {
		runs := digitsRe.FindAllString(s, -1)
		if len(runs) == 0 {
			continue
		}
		n, err := strconv.ParseInt(runs[len(runs)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: article number in %q: %w", model.ErrContent, s, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: no article number", model.ErrContent)
}
