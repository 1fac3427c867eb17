// Package tui is the terminal queue monitor. It renders queue snapshots
// and maps keys to queue actions; all state lives in the queue manager.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/reconcile"
)

type UIState int

const (
	DashboardState UIState = iota
	InputState
	DetailState
)

const (
	TabQueued = iota
	TabActive
	TabDone
	tabCount
)

// Backend is the queue surface the monitor drives.
type Backend interface {
	ListAll() []queue.Item
	Enqueue(req queue.Request) queue.Item
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(id string) error
	ClearCompleted() int
}

// Notices supplies the latest user-facing message.
type Notices interface {
	Last() (reconcile.Notification, bool)
}

// QueueChangedMsg asks the model to re-read the queue.
type QueueChangedMsg struct{}

type tickMsg struct{}

type actionResultMsg struct {
	action string
	id     string
	err    error
}

type RootModel struct {
	backend    Backend
	notices    Notices
	changes    <-chan struct{}
	defaultDir string
	priority   queue.Priority

	items     []queue.Item
	width     int
	height    int
	state     UIState
	activeTab int
	cursor    int

	inputs       []textinput.Model
	focusedInput int
	progress     progress.Model
	help         help.Model

	SpeedHistory []float64

	notification string
	notifyErr    bool
	noticeTicks  int
	lastNoticeAt time.Time
}

// NewModel builds the monitor. changes may be nil, in which case the
// queue is re-read on every tick only.
func NewModel(backend Backend, notices Notices, changes <-chan struct{}, defaultDir string, priority queue.Priority) RootModel {
	urlInput := textinput.New()
	urlInput.Placeholder = "https://example.com/watch?v=..."
	urlInput.Focus()
	urlInput.Width = InputWidth
	urlInput.Prompt = ""

	formatInput := textinput.New()
	formatInput.Placeholder = "(best)"
	formatInput.Width = InputWidth
	formatInput.Prompt = ""

	titleInput := textinput.New()
	titleInput.Placeholder = "(from the page)"
	titleInput.Width = InputWidth
	titleInput.Prompt = ""

	if priority == "" {
		priority = queue.PriorityNormal
	}

	return RootModel{
		backend:    backend,
		notices:    notices,
		changes:    changes,
		defaultDir: defaultDir,
		priority:   priority,
		items:      backend.ListAll(),
		inputs:     []textinput.Model{urlInput, formatInput, titleInput},
		state:      DashboardState,
		progress:   progress.New(progress.WithGradient(string(ColorNeonPurple), string(ColorNeonPink))),
		help:       help.New(),

		lastNoticeAt: time.Now(),
	}
}

func (m RootModel) Init() tea.Cmd {
	return tea.Batch(listenForChanges(m.changes), tick())
}

func listenForChanges(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		_, ok := <-changes
		if !ok {
			return nil
		}
		return QueueChangedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// visible returns the items shown on the active tab, in queue order.
func (m RootModel) visible() []queue.Item {
	var out []queue.Item
	for _, it := range m.items {
		if tabFor(it.Status) == m.activeTab {
			out = append(out, it)
		}
	}
	return out
}

func tabFor(s queue.Status) int {
	switch s {
	case queue.StatusInProgress:
		return TabActive
	case queue.StatusPending, queue.StatusPaused:
		return TabQueued
	default:
		return TabDone
	}
}

// Selected returns the item under the cursor.
func (m RootModel) Selected() (queue.Item, bool) {
	items := m.visible()
	if m.cursor < 0 || m.cursor >= len(items) {
		return queue.Item{}, false
	}
	return items[m.cursor], true
}

// CalculateStats counts items per tab.
func (m RootModel) CalculateStats() (queued, active, done int) {
	for _, it := range m.items {
		switch tabFor(it.Status) {
		case TabQueued:
			queued++
		case TabActive:
			active++
		default:
			done++
		}
	}
	return
}
