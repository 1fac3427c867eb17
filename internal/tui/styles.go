package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/godlp/godlp/internal/config"
)

var (
	// Dracula palette
	ColorNeonPurple = lipgloss.Color("#bd93f9")
	ColorNeonPink   = lipgloss.Color("#ff79c6")
	ColorNeonCyan   = lipgloss.Color("#8be9fd")
	ColorGreen      = lipgloss.Color("#50fa7b")
	ColorRed        = lipgloss.Color("#ff5555")
	ColorOrange     = lipgloss.Color("#ffb86c")
	ColorText       = lipgloss.Color("#f8f8f2")
	ColorLightGray  = lipgloss.Color("#a0a8cd")
	ColorGray       = lipgloss.Color("#6272a4")
	ColorBorder     = lipgloss.Color("#44475a")

	// Item states
	ColorStateDownloading = ColorNeonCyan
	ColorStatePending     = ColorLightGray
	ColorStatePaused      = ColorOrange
	ColorStateDone        = ColorGreen
	ColorStateError       = ColorRed

	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPurple).
			Bold(true)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(ColorNeonPink).
				Bold(true)

	ItemStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	TabStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Padding(DefaultPaddingY, DefaultPaddingX)

	ActiveTabStyle = TabStyle.
			Foreground(ColorNeonPink).
			Bold(true).
			Underline(true)

	StatsLabelStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Width(12)

	StatsValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	NotificationStyle = lipgloss.NewStyle().
				Foreground(ColorNeonCyan).
				Bold(true)

	ErrorNotificationStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)
)

// ApplyTheme sets the lipgloss renderer for the configured theme.
func ApplyTheme(theme int) {
	switch theme {
	case config.ThemeLight:
		lipgloss.SetHasDarkBackground(false)
	case config.ThemeDark:
		lipgloss.SetHasDarkBackground(true)
	default:
		lipgloss.SetHasDarkBackground(termenv.HasDarkBackground())
	}
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
