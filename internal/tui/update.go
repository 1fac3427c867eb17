package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case QueueChangedMsg:
		m.refresh()
		return m, listenForChanges(m.changes)

	case tickMsg:
		m.refresh()
		m.sampleSpeed()
		if m.noticeTicks > 0 {
			m.noticeTicks--
			if m.noticeTicks == 0 {
				m.notification = ""
				m.notifyErr = false
			}
		}
		if m.notices != nil && m.notification == "" {
			if n, ok := m.notices.Last(); ok && n.At.After(m.lastNoticeAt) {
				m.lastNoticeAt = n.At
				m.notify(n.Message, n.Kind == "error")
			}
		}
		return m, tick()

	case actionResultMsg:
		if msg.err != nil {
			m.notify(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else if msg.action != "" {
			m.notify(fmt.Sprintf("%s %s", msg.action, utils.ShortID(msg.id)), false)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case InputState:
			return m.updateInput(msg)
		case DetailState:
			if key.Matches(msg, InputKeys.Back, DashboardKeys.Details) {
				m.state = DashboardState
				return m, nil
			}
			if key.Matches(msg, DashboardKeys.Quit) {
				return m, tea.Quit
			}
			return m, nil
		default:
			return m.updateDashboard(msg)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DashboardKeys.Quit):
		return m, tea.Quit

	case key.Matches(msg, DashboardKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, DashboardKeys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
	case key.Matches(msg, DashboardKeys.NextTab):
		m.activeTab = (m.activeTab + 1) % tabCount
		m.cursor = 0

	case key.Matches(msg, DashboardKeys.Add):
		m.state = InputState
		m.focusedInput = 0
		for i := range m.inputs {
			m.inputs[i].SetValue("")
			m.inputs[i].Blur()
		}
		m.inputs[0].Focus()
		return m, textinput.Blink

	case key.Matches(msg, DashboardKeys.Details):
		if _, ok := m.Selected(); ok {
			m.state = DetailState
		}

	case key.Matches(msg, DashboardKeys.Pause):
		it, ok := m.Selected()
		if !ok {
			return m, nil
		}
		if it.Status == queue.StatusPaused {
			return m, m.resumeCmd(it.ID)
		}
		return m, m.pauseCmd(it.ID)

	case key.Matches(msg, DashboardKeys.Cancel):
		if it, ok := m.Selected(); ok {
			return m, m.cancelCmd(it.ID)
		}

	case key.Matches(msg, DashboardKeys.ClearCompleted):
		n := m.backend.ClearCompleted()
		m.refresh()
		m.notify(fmt.Sprintf("Cleared %d finished downloads", n), false)
	}
	return m, nil
}

func (m RootModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, InputKeys.Back):
		m.state = DashboardState
		return m, nil

	case key.Matches(msg, InputKeys.Next):
		m.inputs[m.focusedInput].Blur()
		m.focusedInput = (m.focusedInput + 1) % len(m.inputs)
		m.inputs[m.focusedInput].Focus()
		return m, nil

	case key.Matches(msg, InputKeys.Submit):
		locator, err := utils.ValidateLocator(m.inputs[0].Value())
		if err != nil {
			m.notify(err.Error(), true)
			return m, nil
		}
		title := strings.TrimSpace(m.inputs[2].Value())
		name := title
		if name == "" {
			name = "%(title)s"
		}
		it := m.backend.Enqueue(queue.Request{
			Locator:     locator,
			Format:      strings.TrimSpace(m.inputs[1].Value()),
			Title:       title,
			Destination: utils.DestinationPath(m.defaultDir, name),
			Priority:    m.priority,
		})
		m.state = DashboardState
		m.refresh()
		m.activeTab = tabFor(it.Status)
		m.cursor = 0
		m.notify("Added "+utils.ShortID(it.ID), false)
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focusedInput], cmd = m.inputs[m.focusedInput].Update(msg)
	return m, cmd
}

func (m *RootModel) refresh() {
	m.items = m.backend.ListAll()
	if n := len(m.visible()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

// sampleSpeed records the speed of the first in-progress item.
func (m *RootModel) sampleSpeed() {
	speed := 0.0
	for _, it := range m.items {
		if it.Status == queue.StatusInProgress {
			speed = parseSpeed(it.Speed) / Megabyte
			break
		}
	}
	m.SpeedHistory = append(m.SpeedHistory, speed)
	if len(m.SpeedHistory) > SpeedHistoryLen {
		m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-SpeedHistoryLen:]
	}
}

func (m *RootModel) notify(text string, isErr bool) {
	m.notification = text
	m.notifyErr = isErr
	m.noticeTicks = int(NoticeDuration / TickInterval)
}

func (m RootModel) pauseCmd(id string) tea.Cmd {
	return m.hostAction("Paused", id, m.backend.Pause)
}

func (m RootModel) cancelCmd(id string) tea.Cmd {
	return m.hostAction("Cancelled", id, m.backend.Cancel)
}

func (m RootModel) resumeCmd(id string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		return actionResultMsg{action: "Resumed", id: id, err: backend.Resume(id)}
	}
}

// hostAction runs a cancel or pause off the UI goroutine; both may wait
// on the host.
func (m RootModel) hostAction(action, id string, fn func(context.Context, string) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ActionTimeout)
		defer cancel()
		err := fn(ctx, id)
		if errors.Is(err, queue.ErrInvalidTransition) {
			err = errors.New("not possible in the current state")
		}
		return actionResultMsg{action: action, id: id, err: err}
	}
}
