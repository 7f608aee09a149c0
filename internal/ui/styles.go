package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#FF0000")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorBlue    = lipgloss.Color("#3B82F6")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
)

// Base styles reused by UI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	ReplayingDotStyle = lipgloss.NewStyle().
				Foreground(ColorMagenta).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	TimerStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	WarningTextStyle = lipgloss.NewStyle().
				Foreground(ColorYellow)

	SuccessTextStyle = lipgloss.NewStyle().
				Foreground(ColorGreen)

	InfoTextStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)
)

// State badges, one per connection state.
var stateStyles = map[protocol.State]lipgloss.Style{
	protocol.StateDisconnected: lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
	protocol.StateConnecting:   lipgloss.NewStyle().Foreground(ColorYellow).Bold(true),
	protocol.StateIdle:         lipgloss.NewStyle().Foreground(ColorBlue).Bold(true),
	protocol.StateConnected:    lipgloss.NewStyle().Foreground(ColorGreen).Bold(true),
	protocol.StateGenerating:   lipgloss.NewStyle().Foreground(ColorMagenta).Bold(true),
}

// StateStyle returns the badge style for a connection state.
func StateStyle(s protocol.State) lipgloss.Style {
	if st, ok := stateStyles[s]; ok {
		return st
	}
	return DimStyle
}
