package reconcile

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers short user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Notification is one delivered message.
type Notification struct {
	Kind    string    `json:"type"` // "success" or "error"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Feed keeps the most recent notifications for UIs that poll, and logs
// each one.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewFeed keeps at most limit notifications.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit}
}

func (f *Feed) Success(msg string) {
	slog.Info(msg)
	f.push(Notification{Kind: "success", Message: msg, At: time.Now()})
}

func (f *Feed) Error(msg string) {
	slog.Warn(msg)
	f.push(Notification{Kind: "error", Message: msg, At: time.Now()})
}

func (f *Feed) push(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.limit {
		f.items = f.items[len(f.items)-f.limit:]
	}
}

// Recent returns the kept notifications, oldest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Last returns the newest notification, if any.
func (f *Feed) Last() (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return Notification{}, false
	}
	return f.items[len(f.items)-1], true
}
