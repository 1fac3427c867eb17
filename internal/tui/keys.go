package tui

import "github.com/charmbracelet/bubbles/key"

type dashboardKeyMap struct {
	Up, Down       key.Binding
	NextTab        key.Binding
	Add            key.Binding
	Pause          key.Binding
	Cancel         key.Binding
	ClearCompleted key.Binding
	Details        key.Binding
	Quit           key.Binding
}

func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.Add, k.Pause, k.Cancel, k.ClearCompleted, k.Quit}
}

func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Details}, k.ShortHelp()}
}

type inputKeyMap struct {
	Next   key.Binding
	Submit key.Binding
	Back   key.Binding
}

func (k inputKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Submit, k.Back}
}

func (k inputKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var DashboardKeys = dashboardKeyMap{
	Up:             key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:           key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	NextTab:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "tabs")),
	Add:            key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Pause:          key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause/resume")),
	Cancel:         key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel")),
	ClearCompleted: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear done")),
	Details:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Quit:           key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var InputKeys = inputKeyMap{
	Next:   key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next field")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "add")),
	Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
}
