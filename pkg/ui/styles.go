// Package ui provides the Bubble Tea status view for the wallet daemon.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
)

var (
	colorAccent  = lipgloss.Color("#7C3AED")
	colorActive  = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorPending = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#6B7280")
	colorFrame   = lipgloss.Color("#374151")
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	uriStyle     = lipgloss.NewStyle().Foreground(colorPending)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	helpStyle    = mutedStyle.Padding(0, 1)
)

// titleStyle colours the title bar after the connection status.
func titleStyle(v app.View) lipgloss.Style {
	bg := colorAccent
	switch {
	case v.Error != nil:
		bg = colorError
	case v.Active:
		bg = colorActive
	case v.Activating != "":
		bg = colorPending
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(bg).
		Padding(0, 2)
}
