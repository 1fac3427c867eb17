// Package host is the bridge to the host backend: the process that runs
// the actual fetch and conversion work and reports its lifecycle as events.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Settings are the host-side preferences. The client passes them through
// without interpreting them.
type Settings struct {
	ProxyMode           string `json:"proxy_mode"`
	ProxyAddress        string `json:"proxy_address"`
	CookiesMode         string `json:"cookies_mode"`
	CookiesBrowser      string `json:"cookies_browser"`
	CookiesFile         string `json:"cookies_file"`
	Language            string `json:"language"`
	AutoRedirectToQueue bool   `json:"auto_redirect_to_queue"`
	UseJSRuntime        bool   `json:"use_js_runtime"`
}

// Host is the RPC surface of the host backend. The host runs at most one
// download and one conversion at a time.
type Host interface {
	Analyze(ctx context.Context, locator string) (json.RawMessage, error)
	AnalyzePlaylist(ctx context.Context, locator string) (json.RawMessage, error)

	// Download starts a download. Progress and the outcome arrive as events.
	Download(ctx context.Context, locator, format, destination string) error
	CancelActiveDownload(ctx context.Context) error
	// PauseActiveDownload has the same contract as CancelActiveDownload; the
	// host answers with a download-cancelled event.
	PauseActiveDownload(ctx context.Context) error
	// ResolvedOutputPath returns the on-disk path of the last download for
	// the given title, whose extension may differ from the request.
	ResolvedOutputPath(ctx context.Context, titleHint string) (string, error)

	Convert(ctx context.Context, sourcePath, targetFormat string) error
	CancelConversion(ctx context.Context) error

	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, s Settings) error
}

// EventSource hands out subscriptions to the host event stream.
type EventSource interface {
	Subscribe(ctx context.Context) (*Subscription, error)
}

// RPCError is a failed host call.
type RPCError struct {
	Method  string
	Status  int
	Message string
	// RetryAfter is set when the host asked the client to back off.
	RetryAfter time.Time
}

func (e *RPCError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: host returned %d: %s", e.Method, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Subscription is an owned handle on the event stream. Events stop being
// delivered once Close is called or the subscribing context ends.
type Subscription struct {
	events  chan Event
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription(buffer int, release func()) *Subscription {
	return &Subscription{
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		release: release,
	}
}

// Events delivers host events in arrival order. The channel is never
// closed; select on Done as well.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// deliver blocks until ev is queued or the subscription ends.
func (s *Subscription) deliver(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// closeWith ties the subscription to ctx.
func (s *Subscription) closeWith(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
}
