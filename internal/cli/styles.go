package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/vrsandeep/repokeep/internal/repository"
)

var (
	primary = lipgloss.Color("#7D56F4")
	success = lipgloss.Color("#50FA7B")
	warning = lipgloss.Color("#FFB86C")
	danger  = lipgloss.Color("#FF5555")
	muted   = lipgloss.Color("#6272A4")

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(primary).
			Padding(0, 1).
			Bold(true)
	successText = lipgloss.NewStyle().Foreground(success)
	warningText = lipgloss.NewStyle().Foreground(warning)
	errorText   = lipgloss.NewStyle().Foreground(danger)
	mutedText   = lipgloss.NewStyle().Foreground(muted)
)

func formatStatus(status string) string {
	switch status {
	case repository.StatusInstalled:
		return successText.Render(status)
	case repository.StatusPendingUpgrade, repository.StatusPendingRestart:
		return warningText.Render(status)
	case repository.StatusNew:
		return lipgloss.NewStyle().Foreground(primary).Render(status)
	}
	return mutedText.Render(status)
}
