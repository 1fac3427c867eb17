// Package history records the terminal outcome of every download attempt.
//
// Records are append-only: one record per attempt, never updated in place
// by the download flow. Duplicate locators across records are expected.
package history

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("history item not found")

// Status is the terminal outcome of an attempt.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the terminal statuses.
func (s Status) Valid() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Item is one finished download attempt.
type Item struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	FormatID     string     `json:"formatID"`
	OutputPath   string     `json:"outputPath"`
	Status       Status     `json:"status"`
	FileSize     *int64     `json:"fileSize,omitempty"`
	Duration     *float64   `json:"duration,omitempty"` // seconds
	Thumbnail    string     `json:"thumbnail,omitempty"`
	FileType     string     `json:"fileType,omitempty"` // MIME sniffed from the file, if readable
	DateAdded    time.Time  `json:"dateAdded"`
	DownloadedAt *time.Time `json:"downloadedAt,omitempty"`
}

// Patch is a merge-patch for Update; nil fields are left unchanged.
type Patch struct {
	Title        *string
	OutputPath   *string
	Status       *Status
	FileSize     *int64
	Duration     *float64
	Thumbnail    *string
	FileType     *string
	DownloadedAt *time.Time
}

func (p Patch) apply(it *Item) {
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.OutputPath != nil {
		it.OutputPath = *p.OutputPath
	}
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.FileSize != nil {
		v := *p.FileSize
		it.FileSize = &v
	}
	if p.Duration != nil {
		v := *p.Duration
		it.Duration = &v
	}
	if p.Thumbnail != nil {
		it.Thumbnail = *p.Thumbnail
	}
	if p.FileType != nil {
		it.FileType = *p.FileType
	}
	if p.DownloadedAt != nil {
		v := *p.DownloadedAt
		it.DownloadedAt = &v
	}
}

// Store persists history records.
type Store interface {
	// Add assigns the id and DateAdded, ignoring any values set on item.
	Add(item Item) (string, error)
	Get(id string) (Item, error)
	// GetAll returns records in no particular order.
	GetAll() ([]Item, error)
	GetByStatus(status Status) ([]Item, error)
	// GetRecent returns at most limit records, newest first.
	GetRecent(limit int) ([]Item, error)
	Update(id string, patch Patch) error
	Delete(id string) error
	Clear() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the timestamp source used by Add.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newID() string {
	return "hist_" + uuid.New().String()
}
