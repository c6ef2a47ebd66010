package main

import "github.com/charmbracelet/lipgloss"

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1b3668"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0a030"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a"))
	scoreStyle   = lipgloss.NewStyle().Bold(true)
)

// scoreColor maps a 0-100 critique score to a traffic-light color.
func scoreColor(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return scoreStyle.Foreground(lipgloss.Color("#8BC34A"))
	case score >= 60:
		return scoreStyle.Foreground(lipgloss.Color("#e0a030"))
	default:
		return scoreStyle.Foreground(lipgloss.Color("#e53935"))
	}
}
