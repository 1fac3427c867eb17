package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/media"
	"github.com/godlp/godlp/internal/queue"
)

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// Client talks to a running instance's API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping checks that an instance is listening.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) List(ctx context.Context) ([]queue.Item, error) {
	var items []queue.Item
	err := c.do(ctx, http.MethodGet, "/queue", nil, &items)
	return items, err
}

func (c *Client) Add(ctx context.Context, req AddRequest) (queue.Item, error) {
	var item queue.Item
	err := c.do(ctx, http.MethodPost, "/queue", req, &item)
	return item, err
}

// AddPlaylist queues the selected entries of a playlist.
func (c *Client) AddPlaylist(ctx context.Context, req PlaylistAddRequest) (PlaylistAddResponse, error) {
	var resp PlaylistAddResponse
	err := c.do(ctx, http.MethodPost, "/queue/playlist", req, &resp)
	return resp, err
}

func (c *Client) Get(ctx context.Context, id string) (queue.Item, error) {
	var item queue.Item
	err := c.do(ctx, http.MethodGet, "/queue/"+url.PathEscape(id), nil, &item)
	return item, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/queue/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) Pause(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/queue/"+url.PathEscape(id)+"/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/queue/"+url.PathEscape(id)+"/resume", nil, nil)
}

// ClearCompleted returns how many finished items were removed.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/queue/completed", nil, &out)
	return out.Removed, err
}

func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/queue", nil, nil)
}

// History lists records newest first, optionally filtered by status.
func (c *Client) History(ctx context.Context, status history.Status) ([]history.Item, error) {
	path := "/history"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var items []history.Item
	err := c.do(ctx, http.MethodGet, path, nil, &items)
	return items, err
}

func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/history/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/history", nil, nil)
}

func (c *Client) Analyze(ctx context.Context, locator string) (media.Result, error) {
	var res media.Result
	err := c.do(ctx, http.MethodGet, "/analyze?url="+url.QueryEscape(locator), nil, &res)
	return res, err
}

func (c *Client) Convert(ctx context.Context, req ConvertRequest) error {
	return c.do(ctx, http.MethodPost, "/convert", req, nil)
}

func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/cache", nil, nil)
}
