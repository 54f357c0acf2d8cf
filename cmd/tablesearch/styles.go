package main

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#8BC34A")
	danger  = lipgloss.Color("#e53935")
	warning = lipgloss.Color("#FFB300")
	muted   = lipgloss.Color("#8a94a6")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(muted).Width(12)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	statusStyles = map[string]lipgloss.Style{
		"completed":  lipgloss.NewStyle().Foreground(accent),
		"timed_out":  lipgloss.NewStyle().Foreground(warning),
		"errored":    lipgloss.NewStyle().Foreground(danger),
		"incomplete": lipgloss.NewStyle().Foreground(danger),
	}
)

func statusText(status string) string {
	if s, ok := statusStyles[status]; ok {
		return s.Render(status)
	}
	return status
}

func statLine(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), sprint(value))
}
