package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/godlp/godlp/internal/utils"
)

// RemoteHost talks to a host backend over HTTP: JSON calls on
// POST /rpc/{method} and lifecycle events on an SSE stream at /events.
type RemoteHost struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
}

// NewRemoteHost creates a client for the host at baseURL.
func NewRemoteHost(baseURL, token string, timeout time.Duration) *RemoteHost {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteHost{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Client:    &http.Client{Timeout: timeout},
		SSEClient: &http.Client{},
	}
}

func (h *RemoteHost) call(ctx context.Context, method string, args any, out any) error {
	var body io.Reader
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/rpc/"+method, body)
	if err != nil {
		return err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	if args != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return &RPCError{Method: method, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		// Limit error body read to 1KB
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		rpcErr := &RPCError{Method: method, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			rpcErr.RetryAfter = httpheader.RetryAfter(resp.Header)
		}
		return rpcErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// errorMessage pulls "error" out of a JSON body, or falls back to the text.
func errorMessage(raw []byte, status string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return status
}

type locatorArgs struct {
	URL string `json:"url"`
}

func (h *RemoteHost) Analyze(ctx context.Context, locator string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.call(ctx, "analyze", locatorArgs{URL: locator}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *RemoteHost) AnalyzePlaylist(ctx context.Context, locator string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.call(ctx, "analyzePlaylist", locatorArgs{URL: locator}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *RemoteHost) Download(ctx context.Context, locator, format, destination string) error {
	return h.call(ctx, "download", map[string]string{
		"url":        locator,
		"formatID":   format,
		"outputPath": destination,
	}, nil)
}

func (h *RemoteHost) CancelActiveDownload(ctx context.Context) error {
	return h.call(ctx, "cancelDownload", nil, nil)
}

func (h *RemoteHost) PauseActiveDownload(ctx context.Context) error {
	return h.call(ctx, "pauseDownload", nil, nil)
}

func (h *RemoteHost) ResolvedOutputPath(ctx context.Context, titleHint string) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	if err := h.call(ctx, "resolvedOutputPath", map[string]string{"title": titleHint}, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

func (h *RemoteHost) Convert(ctx context.Context, sourcePath, targetFormat string) error {
	return h.call(ctx, "convert", map[string]string{
		"sourcePath":   sourcePath,
		"targetFormat": targetFormat,
	}, nil)
}

func (h *RemoteHost) CancelConversion(ctx context.Context) error {
	return h.call(ctx, "cancelConversion", nil, nil)
}

func (h *RemoteHost) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := h.call(ctx, "getSettings", nil, &s)
	return s, err
}

func (h *RemoteHost) UpdateSettings(ctx context.Context, s Settings) error {
	return h.call(ctx, "updateSettings", s, nil)
}

// Subscribe opens the event stream. The stream reconnects with backoff
// until the subscription is closed or ctx ends.
func (h *RemoteHost) Subscribe(ctx context.Context) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(100, cancel)
	sub.closeWith(ctx)
	go h.streamWithReconnect(ctx, sub)
	return sub, nil
}

func (h *RemoteHost) streamWithReconnect(ctx context.Context, sub *Subscription) {
	backoff := 1 * time.Second
	for {
		err := h.connectSSE(ctx, sub)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			utils.Debug("Host: event stream dropped: %v (retry in %v)", err, backoff)
		} else {
			backoff = 1 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (h *RemoteHost) connectSSE(ctx context.Context, sub *Subscription) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/events", nil)
	if err != nil {
		return err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	return readSSE(ctx, bufio.NewReader(resp.Body), sub)
}

// readSSE forwards every named event until the stream ends. Events without
// data are valid: several host events carry no payload.
func readSSE(ctx context.Context, reader *bufio.Reader, sub *Subscription) error {
	for {
		name := ""
		var dataLines []string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			line = strings.TrimRight(line, "\r\n")

			if line == "" {
				break
			}
			// Comment/heartbeat
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}

		if name == "" {
			continue
		}
		ev := Event{Name: name}
		if len(dataLines) > 0 {
			ev.Data = json.RawMessage(strings.Join(dataLines, "\n"))
		}
		if !sub.deliver(ctx, ev) {
			return nil
		}
	}
}
