package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/utils"
)

const logoText = `
 ██████   ██████  ██████  ██      ██████
██       ██    ██ ██   ██ ██      ██   ██
██   ███ ██    ██ ██   ██ ██      ██████
██    ██ ██    ██ ██   ██ ██      ██
 ██████   ██████  ██████  ███████ ██`

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case InputState:
		return m.viewInput()
	case DetailState:
		if it, ok := m.Selected(); ok {
			box := renderBtopBox("Download", renderFocusedDetails(it, m.progress, 76), 80, 22, ColorNeonPink, false)
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
		}
	}

	availableHeight := m.height - 2
	availableWidth := m.width - 4

	leftWidth := int(float64(availableWidth) * ListWidthRatio)
	rightWidth := availableWidth - leftWidth - 2

	listHeight := max(availableHeight-HeaderHeight, 10)
	graphHeight := max(availableHeight/3, 9)
	detailHeight := max(availableHeight-graphHeight, 10)

	headerBox := lipgloss.NewStyle().
		Width(leftWidth).
		Height(HeaderHeight).
		Padding(0, 2).
		Render(LogoStyle.Render(logoText))

	graphBox := renderBtopBox("Network Activity", m.viewGraph(rightWidth, graphHeight), rightWidth, graphHeight, ColorNeonCyan, false)

	queued, active, done := m.CalculateStats()
	tabBar := renderTabs(m.activeTab, queued, active, done)

	var listContent string
	items := m.visible()
	if len(items) == 0 {
		listContent = lipgloss.Place(leftWidth-8, listHeight-6, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No downloads"))
	} else {
		listContent = renderList(items, m.cursor, leftWidth-8, listHeight-6)
	}

	listInner := lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		listContent,
	))
	listBox := renderBtopBox("Downloads", listInner, leftWidth, listHeight, ColorNeonPink, true)

	var detailContent string
	if it, ok := m.Selected(); ok {
		detailContent = renderFocusedDetails(it, m.progress, rightWidth-4)
	} else {
		detailContent = lipgloss.Place(rightWidth-4, detailHeight-4, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No Download Selected"))
	}
	detailBox := renderBtopBox("Details", detailContent, rightWidth, detailHeight, ColorGray, true)

	leftColumn := lipgloss.JoinVertical(lipgloss.Left, headerBox, listBox)
	rightColumn := lipgloss.JoinVertical(lipgloss.Left, graphBox, detailBox)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftColumn, rightColumn)

	return lipgloss.JoinVertical(lipgloss.Left, body, m.footer())
}

func (m RootModel) footer() string {
	if m.notification == "" {
		return lipgloss.NewStyle().Padding(0, 1).Render(m.help.View(DashboardKeys))
	}
	style := NotificationStyle
	if m.notifyErr {
		style = ErrorNotificationStyle
	}
	return lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, style.Render(m.notification))
}

func (m RootModel) viewInput() string {
	labelStyle := lipgloss.NewStyle().Width(10).Foreground(ColorLightGray)

	content := lipgloss.JoinVertical(lipgloss.Left,
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("URL:"), m.inputs[0].View()),
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Format:"), m.inputs[1].View()),
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Title:"), m.inputs[2].View()),
		"",
		lipgloss.NewStyle().Foreground(ColorGray).Render("Priority: "+string(m.priority)),
		m.help.View(InputKeys),
	)
	if m.notification != "" && m.notifyErr {
		content = lipgloss.JoinVertical(lipgloss.Left, content, ErrorNotificationStyle.Render(m.notification))
	}

	box := renderBtopBox("Add Download", lipgloss.NewStyle().Padding(0, 2).Render(content), 80, 13, ColorNeonPink, false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) viewGraph(width, height int) string {
	axisWidth := 6
	graphWidth := max(width-axisWidth-5, 10)
	graphHeight := max(height-4, 1)

	maxSpeed := 1.0
	for _, v := range m.SpeedHistory {
		if v > maxSpeed {
			maxSpeed = v
		}
	}
	maxSpeed *= 1.1
	if maxSpeed >= 5 {
		maxSpeed = float64(int((maxSpeed+4.99)/5) * 5)
	} else {
		maxSpeed = float64(int(maxSpeed + 0.99))
	}

	axisStyle := lipgloss.NewStyle().Width(axisWidth).Foreground(ColorGray).Align(lipgloss.Right)
	gap := max(graphHeight-2, 0)
	axis := lipgloss.JoinVertical(lipgloss.Right,
		axisStyle.Render(fmt.Sprintf("%.0f", maxSpeed)),
		strings.Repeat("\n", gap),
		axisStyle.Render("0"),
	)

	row := lipgloss.JoinHorizontal(lipgloss.Top,
		axis,
		lipgloss.NewStyle().MarginLeft(1).Render(renderMultiLineGraph(m.SpeedHistory, graphWidth, graphHeight, maxSpeed, ColorNeonPink)),
	)

	current := 0.0
	if n := len(m.SpeedHistory); n > 0 {
		current = m.SpeedHistory[n-1]
	}
	title := lipgloss.NewStyle().
		Width(width - 4).
		Align(lipgloss.Right).
		Foreground(ColorNeonPink).
		Bold(true).
		Render(fmt.Sprintf("Current: %.2f MiB/s", current))

	return lipgloss.JoinVertical(lipgloss.Left, title, "", row)
}

func renderList(items []queue.Item, cursor, width, height int) string {
	// keep the cursor in view
	start := 0
	if height > 0 && cursor >= height {
		start = cursor - height + 1
	}
	var lines []string
	for i := start; i < len(items) && len(lines) < max(height, 1); i++ {
		it := items[i]
		style := ItemStyle
		marker := "  "
		if i == cursor {
			style = SelectedItemStyle
			marker = "> "
		}
		meta := fmt.Sprintf(" %3.0f%% %s", it.Progress, statusBadge(it.Status))
		name := truncateString(displayTitle(it), max(width-lipgloss.Width(meta)-6, 8))
		lines = append(lines, style.Render(marker+name)+meta)
	}
	return strings.Join(lines, "\n")
}

func displayTitle(it queue.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return it.Locator
}

func renderFocusedDetails(it queue.Item, bar interface{ ViewAs(float64) string }, w int) string {
	contentWidth := w - 6
	divider := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(strings.Repeat("─", max(contentWidth, 1)))

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Left, StatsLabelStyle.Render(label), StatsValueStyle.Render(value))
	}

	info := lipgloss.JoinVertical(lipgloss.Left,
		row("Title:", truncateString(displayTitle(it), contentWidth-14)),
		row("ID:", utils.ShortID(it.ID)),
		row("Status:", statusBadge(it.Status)),
		row("Priority:", string(it.Priority)),
	)

	progressSection := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render("Progress"),
		"",
		lipgloss.NewStyle().MarginLeft(1).Render(bar.ViewAs(it.Progress/100)),
	)

	stats := lipgloss.JoinVertical(lipgloss.Left,
		row("Speed:", orDash(it.Speed)),
		row("Size:", orDash(it.Size)),
		row("ETA:", orDash(it.ETA)),
		row("Added:", it.AddedAt.Format("2006-01-02 15:04")),
	)

	paths := lipgloss.JoinVertical(lipgloss.Left,
		row("Format:", orDash(it.Format)),
		row("Output:", truncateString(it.Destination, contentWidth-14)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			StatsLabelStyle.Render("URL:"),
			lipgloss.NewStyle().Foreground(ColorLightGray).Render(truncateString(it.Locator, contentWidth-14)),
		),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		"", info, divider,
		"", progressSection, divider,
		"", stats, divider,
		"", paths,
	)
	if it.Unconfirmed {
		content = lipgloss.JoinVertical(lipgloss.Left, content, "",
			lipgloss.NewStyle().Foreground(ColorOrange).Render("Host never confirmed the stop"))
	}
	return lipgloss.NewStyle().Padding(0, 2).Render(content)
}

func statusBadge(s queue.Status) string {
	style := lipgloss.NewStyle()
	switch s {
	case queue.StatusInProgress:
		return style.Foreground(ColorStateDownloading).Render("⬇ Downloading")
	case queue.StatusPaused:
		return style.Foreground(ColorStatePaused).Render("⏸ Paused")
	case queue.StatusCompleted:
		return style.Foreground(ColorStateDone).Render("✔ Completed")
	case queue.StatusFailed:
		return style.Foreground(ColorStateError).Render("✖ Failed")
	case queue.StatusCancelled:
		return style.Foreground(ColorStateError).Render("⊘ Cancelled")
	default:
		return style.Foreground(ColorStatePending).Render("o Queued")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateString(s string, i int) string {
	runes := []rune(s)
	if i > 0 && len(runes) > i {
		return string(runes[:i]) + "..."
	}
	return s
}

func renderTabs(activeTab, queuedCount, activeCount, doneCount int) string {
	tabs := []struct {
		Label string
		Count int
	}{
		{"Queued", queuedCount},
		{"Active", activeCount},
		{"Done", doneCount},
	}
	var rendered []string
	for i, t := range tabs {
		style := TabStyle
		if i == activeTab {
			style = ActiveTabStyle
		}
		rendered = append(rendered, style.Render(fmt.Sprintf("%s (%d)", t.Label, t.Count)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderBtopBox draws a rounded box with the title set into the top border,
// left or right aligned.
//
//	╭─ TITLE ──────────────╮
//	╭────────────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	innerWidth := max(width-2, 1)
	border := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)

	titleText := fmt.Sprintf(" %s ", title)
	rest := max(innerWidth-lipgloss.Width(titleText)-1, 0)

	var top string
	if titleRight {
		top = border.Render("╭"+strings.Repeat("─", rest)) + titleStyle.Render(titleText) + border.Render("─╮")
	} else {
		top = border.Render("╭─") + titleStyle.Render(titleText) + border.Render(strings.Repeat("─", rest)+"╮")
	}
	bottom := border.Render("╰" + strings.Repeat("─", innerWidth) + "╯")

	lines := strings.Split(content, "\n")
	var body []string
	for i := 0; i < height-2; i++ {
		line := ""
		if i < len(lines) {
			line = lines[i]
		}
		if w := lipgloss.Width(line); w < innerWidth {
			line += strings.Repeat(" ", innerWidth-w)
		} else if w > innerWidth {
			line = truncateVisible(line, innerWidth)
		}
		body = append(body, border.Render("│")+line+border.Render("│"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, top, strings.Join(body, "\n"), bottom)
}

func truncateVisible(s string, width int) string {
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}
