package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#64748B") // Slate 500
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	frameStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CBD5E1")).
			PaddingLeft(2)
)

// stateStyle colours a session state name
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "completed", "connected":
		return successStyle
	case "error":
		return errorStyle
	case "paused", "pending_confirmation", "stopping", "stopped":
		return warningStyle
	default:
		return titleStyle
	}
}

// progressBar renders pct (0-100) as a fixed-width bar
func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(0, min(width, filled))
	bar := successStyle.Render(strings.Repeat("█", filled)) +
		mutedStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %5.1f%%", bar, pct)
}
