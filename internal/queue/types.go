package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no queue item has the requested id.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition is returned when an action does not apply to the
	// item's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition happens without an
// explicit re-enqueue.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// ParsePriority accepts low, normal or high (case-insensitive). An empty
// string is normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Intent distinguishes a cancel request from a pause request while the host
// has not yet acknowledged either.
type Intent string

const (
	IntentCancel Intent = "cancel"
	IntentPause  Intent = "pause"
)

// CancelingTarget names the item an outstanding cancel or pause refers to.
type CancelingTarget struct {
	ID     string `json:"id"`
	Intent Intent `json:"intent"`
}

// Request is a download submission.
type Request struct {
	Locator     string   `json:"url"`
	Format      string   `json:"formatID"`
	Destination string   `json:"outputPath"`
	Title       string   `json:"title"`
	Priority    Priority `json:"priority,omitempty"`
}

// Item is one requested download. Values returned by the manager are copies.
type Item struct {
	ID          string     `json:"id"`
	Locator     string     `json:"url"`
	Format      string     `json:"formatID"`
	Destination string     `json:"outputPath"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Priority    Priority   `json:"priority"`
	AddedAt     time.Time  `json:"addedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Display-only telemetry, last event wins.
	Speed string `json:"speed,omitempty"`
	Size  string `json:"size,omitempty"`
	ETA   string `json:"eta,omitempty"`

	// Unconfirmed is set when a cancel or pause was forced locally because
	// the host never acknowledged it.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// Request returns the submission that would recreate this item.
func (it Item) Request() Request {
	return Request{
		Locator:     it.Locator,
		Format:      it.Format,
		Destination: it.Destination,
		Title:       it.Title,
		Priority:    it.Priority,
	}
}

func (it *Item) clone() Item {
	c := *it
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// ProgressUpdate carries the optional fields of a progress report. Nil
// fields leave the item's value unchanged.
type ProgressUpdate struct {
	Percent *float64
	Speed   *string
	Size    *string
	ETA     *string
}

// Attribution is the queue item a host event refers to.
type Attribution struct {
	Item Item
	// Intent is set when the event answers an outstanding cancel or pause.
	Intent Intent
}
