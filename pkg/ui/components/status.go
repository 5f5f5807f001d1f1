// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/asset"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Width(10)
	valueStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// Indicator is the one-glyph connection summary.
func Indicator(v app.View) string {
	switch {
	case v.Active:
		return "🟢"
	case v.Error != nil:
		return "🔴"
	default:
		return "🟠"
	}
}

// FormatBalance renders a balance in the chain's native coin. Unknown is
// "N/A", a failed fetch is "Error".
func FormatBalance(d domain.Derived[*big.Int], chainID uint64, assets *asset.Registry) string {
	switch d.State {
	case domain.DerivedKnown:
		if d.Value == nil {
			return "N/A"
		}
		return asset.NewAmount(assets.Native(chainID), d.Value).String()
	case domain.DerivedFailed:
		return "Error"
	default:
		return "N/A"
	}
}

// FormatBlock renders the block height. Unknown is "...", a failed read
// is "Error".
func FormatBlock(d domain.Derived[uint64]) string {
	switch d.State {
	case domain.DerivedKnown:
		return fmt.Sprintf("#%d", d.Value)
	case domain.DerivedFailed:
		return "Error"
	default:
		return "..."
	}
}

// FormatChain renders the chain id, "..." when absent.
func FormatChain(chainID uint64) string {
	if chainID == 0 {
		return "..."
	}
	return fmt.Sprintf("%d", chainID)
}

// StatusComponent renders the connection status panel.
type StatusComponent struct {
	assets *asset.Registry
	view   app.View
}

// NewStatusComponent creates a new status component.
func NewStatusComponent(assets *asset.Registry) *StatusComponent {
	return &StatusComponent{assets: assets}
}

// Update replaces the rendered snapshot.
func (s *StatusComponent) Update(v app.View) {
	s.view = v
}

// View renders the status component.
func (s *StatusComponent) View() string {
	v := s.view

	var b strings.Builder
	b.WriteString(Indicator(v) + " ")
	switch {
	case v.Active:
		b.WriteString(valueStyle.Render(v.Connector))
	case v.Activating != "":
		b.WriteString(mutedStyle.Render("connecting to " + v.Activating))
	case v.Error != nil:
		b.WriteString(errorStyle.Render("error"))
	default:
		b.WriteString(mutedStyle.Render("not connected"))
	}
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("Chain", FormatChain(v.ChainID))
	row("Block", FormatBlock(v.BlockHeight))
	row("Account", v.Account.String())
	row("Balance", FormatBalance(v.Balance, v.ChainID, s.assets))

	if v.Error != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(v.Error.Message()))
		b.WriteString("\n")
	}

	return b.String()
}
