// Package hrportal reads news from the HR portal JSON API.
package hrportal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"news_dispatch/internal/model"
	"news_dispatch/internal/source"
)

// Source code and id prefix of the portal.
const (
	Code     = "hr_portal"
	IDPrefix = "hr"
)

// Options configures a Portal.
type Options struct {
	// BaseURL is used for login and item links.
	BaseURL string
	// APIURL is the news list endpoint.
	APIURL   string
	Username string
	Password string
	// Token enables Bearer authentication instead of the form login.
	Token string
}

type listResponse struct {
	Data struct {
		Items []rawItem `json:"items"`
	} `json:"data"`
}

type rawItem struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Category  string          `json:"category"`
	CreatedAt string          `json:"createdAt"`
}

// Portal is a source.Source backed by the HR portal API. The HTTP client
// must carry a cookie jar when form login is used.
type Portal struct {
	opts   Options
	client source.HTTPClient
	logger *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// New creates a Portal.
func New(opts Options, client source.HTTPClient, logger *slog.Logger) *Portal {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Portal{opts: opts, client: client, logger: logger}
}

// Code returns the watermark key of the portal.
func (p *Portal) Code() string { return Code }

// DefaultID returns the initial watermark.
func (p *Portal) DefaultID() string { return p.BuildID(0) }

// BuildID formats a portal row id as a news id.
func (p *Portal) BuildID(n int64) string { return model.BuildNewsID(IDPrefix, n) }

// FetchDelta returns portal items newer than lastID, oldest first.
func (p *Portal) FetchDelta(ctx context.Context, lastID string) ([]model.NewsItem, error) {
	_, lastN, err := model.ParseNewsID(lastID)
	if err != nil {
		return nil, fmt.Errorf("parse last id: %w", err)
	}

	raw, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int64
		item model.NewsItem
	}
	var fresh []numbered
	for _, r := range raw {
		n, err := strconv.ParseInt(strings.Trim(string(r.ID), `"`), 10, 64)
		if err != nil || n < 0 {
			p.logger.Debug("skipping portal item with bad id", "id", string(r.ID))
			continue
		}
		if n <= lastN {
			continue
		}
		fresh = append(fresh, numbered{n: n, item: p.normalize(n, r)})
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].n < fresh[j].n })
	items := make([]model.NewsItem, len(fresh))
	for i, f := range fresh {
		items[i] = f.item
	}
	return items, nil
}

func (p *Portal) normalize(n int64, r rawItem) model.NewsItem {
	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = source.DefaultCategory
	}
	return model.NewsItem{
		ID:          p.BuildID(n),
		Title:       strings.TrimSpace(r.Title),
		Body:        source.Truncate(source.CleanHTML(r.Content), source.BodyLimit),
		Category:    category,
		Link:        fmt.Sprintf("%s/news/detail/%d", p.opts.BaseURL, n),
		PublishedAt: r.CreatedAt,
	}
}

func (p *Portal) fetch(ctx context.Context) ([]rawItem, error) {
	if err := p.ensureLogin(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.APIURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", model.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.mu.Lock()
		p.loggedIn = false
		p.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrTransport, resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5*1024*1024)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", model.ErrTransport, err)
	}
	return body.Data.Items, nil
}

func (p *Portal) ensureLogin(ctx context.Context) error {
	if p.opts.Token != "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggedIn {
		return nil
	}

	form := url.Values{"email": {p.opts.Username}, "password": {p.opts.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/api/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login: %w", model.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login status %d", model.ErrTransport, resp.StatusCode)
	}
	p.loggedIn = true
	p.logger.Info("logged in to hr portal", "user", p.opts.Username)
	return nil
}
