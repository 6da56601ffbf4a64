// Package yandex implements the Yandex Messenger bot channel: API client,
// inbound update payloads, notification formatting and the fan-out sender.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"news_dispatch/internal/model"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://botapi.messenger.yandex.net/bot/v1"

const maxFileSize = 20 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Button is an inline keyboard button. A button with a URL opens the link
// instead of sending its text back to the bot.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	MessageID   int64  `json:"message_id"`
	Description string `json:"description"`
}

// Client calls the Bot API with an OAuth token.
type Client struct {
	baseURL string
	token   string
	http    HTTPClient
}

// NewClient creates a Client. An empty baseURL selects DefaultAPIURL.
func NewClient(baseURL, token string, httpClient HTTPClient) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// SendText sends a private message to login. A nil keyboard sends no
// buttons.
func (c *Client) SendText(ctx context.Context, login, text string, keyboard []Button) error {
	payload := struct {
		Login          string   `json:"login"`
		Text           string   `json:"text"`
		InlineKeyboard []Button `json:"inline_keyboard,omitempty"`
	}{Login: login, Text: text, InlineKeyboard: keyboard}

	return c.postJSON(ctx, "messages/sendText/", payload)
}

// SendImage uploads an image as a private message to login.
func (c *Client) SendImage(ctx context.Context, login string, image []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("login", login); err != nil {
		return fmt.Errorf("write login field: %w", err)
	}
	part, err := w.CreateFormFile("image", "image")
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, "messages/sendImage/", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, "sendImage")
}

// GetFile downloads an attachment by file id.
func (c *Client) GetFile(ctx context.Context, fileID string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return nil, fmt.Errorf("marshal getFile: %w", err)
	}
	req, err := c.newRequest(ctx, "messages/getFile/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: getFile: %w", model.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: getFile: unexpected status %d", model.ErrTransport, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read file %s: %w", model.ErrTransport, fileID, err)
	}
	return data, nil
}

// SetWebhook registers the URL updates are pushed to.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.postJSON(ctx, "self/update/", map[string]string{"webhook_url": url})
}

func (c *Client) postJSON(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	req, err := c.newRequest(ctx, method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, strings.Trim(method, "/"))
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	return req, nil
}

func (c *Client) do(req *http.Request, name string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrTransport, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out apiResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		if out.Description != "" {
			return fmt.Errorf("%w: %s: status %d: %s", model.ErrTransport, name, resp.StatusCode, out.Description)
		}
		return fmt.Errorf("%w: %s: unexpected status %d", model.ErrTransport, name, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s: decode response: %w", model.ErrTransport, name, decodeErr)
	}
	if !out.OK {
		return fmt.Errorf("%w: %s: %s", model.ErrTransport, name, out.Description)
	}
	return nil
}
