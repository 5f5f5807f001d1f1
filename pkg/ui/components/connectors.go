package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
)

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
	enabledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
)

// ConnectorsComponent is the selectable list of registered connectors.
type ConnectorsComponent struct {
	names  []string
	cursor int
	view   app.View
}

// NewConnectorsComponent creates the list in registry order.
func NewConnectorsComponent(names []string) *ConnectorsComponent {
	return &ConnectorsComponent{names: names}
}

// Update replaces the snapshot used for markers and enablement.
func (c *ConnectorsComponent) Update(v app.View) {
	c.view = v
}

// ScrollUp moves the cursor up.
func (c *ConnectorsComponent) ScrollUp() {
	if c.cursor > 0 {
		c.cursor--
	}
}

// ScrollDown moves the cursor down.
func (c *ConnectorsComponent) ScrollDown() {
	if c.cursor < len(c.names)-1 {
		c.cursor++
	}
}

// Selected returns the connector under the cursor.
func (c *ConnectorsComponent) Selected() string {
	if len(c.names) == 0 {
		return ""
	}
	return c.names[c.cursor]
}

// Disabled reports whether name cannot be activated right now: before the
// eager probe finishes, while any activation is in flight, when it is the
// current connector, or while an error is shown.
func (c *ConnectorsComponent) Disabled(name string) bool {
	v := c.view
	return !v.EagerTried || v.Activating != "" || v.Connector == name || v.Error != nil
}

// View renders the list. spin is drawn next to the activating connector.
func (c *ConnectorsComponent) View(spin string) string {
	var b strings.Builder
	for i, name := range c.names {
		cursor := "  "
		if i == c.cursor {
			cursor = cursorStyle.Render("> ")
		}

		style := enabledStyle
		if c.Disabled(name) {
			style = disabledStyle
		}

		marker := ""
		switch {
		case c.view.Activating == name:
			marker = " " + spin
		case c.view.Active && c.view.Connector == name:
			marker = " ✅"
		}

		b.WriteString(cursor + style.Render(name) + marker + "\n")
	}
	return b.String()
}
