package cmd

import (
	"github.com/UniQw/taskq"
	"github.com/charmbracelet/lipgloss"
)

var (
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
)

// statusText renders a status with its color.
func statusText(s taskq.Status) string {
	switch s {
	case taskq.StatusRunning:
		return runningStyle.Render(s.String())
	case taskq.StatusCompleted:
		return successStyle.Render(s.String())
	case taskq.StatusFailed:
		return failStyle.Render(s.String())
	case taskq.StatusCancelled:
		return warnStyle.Render(s.String())
	default:
		return mutedStyle.Render(s.String())
	}
}
