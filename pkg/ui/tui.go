package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/internal/asset"
	"github.com/tqthu/web3-thu-duc/pkg/ui/components"
)

// Wallet is the part of the wallet service the view drives.
type Wallet interface {
	Connectors() []string
	View() app.View
	RequestActivation(ctx context.Context, name string) error
	RequestDeactivation(ctx context.Context)
}

// ErrorEntry represents an error with timestamp.
type ErrorEntry struct {
	Message   string
	Timestamp time.Time
}

const maxErrors = 3

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	ctx    context.Context
	wallet Wallet
	views  <-chan app.View

	// Components
	status     *components.StatusComponent
	connectors *components.ConnectorsComponent
	spinner    spinner.Model
	help       help.Model
	keys       KeyMap

	// State
	view     app.View
	width    int
	quitting bool
	errors   []ErrorEntry
}

// New creates the model. views should be subscribed to the wallet service
// by the caller, which also unsubscribes once the program exits.
func New(ctx context.Context, wallet Wallet, views <-chan app.View, assets *asset.Registry) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(colorPending)

	m := Model{
		ctx:        ctx,
		wallet:     wallet,
		views:      views,
		status:     components.NewStatusComponent(assets),
		connectors: components.NewConnectorsComponent(wallet.Connectors()),
		spinner:    sp,
		help:       help.New(),
		keys:       DefaultKeyMap(),
		errors:     make([]ErrorEntry, 0, maxErrors),
	}
	m.apply(wallet.View())
	return m
}

// Init initializes the TUI model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForView(m.views))
}

// waitForView delivers the next snapshot from the service.
func waitForView(views <-chan app.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return nil
		}
		return ViewMsg{View: v}
	}
}

// activate runs the activation off the update loop; it blocks until the
// connector settles.
func activate(ctx context.Context, w Wallet, name string) tea.Cmd {
	return func() tea.Msg {
		return ActivationDoneMsg{Connector: name, Err: w.RequestActivation(ctx, name)}
	}
}

func deactivate(ctx context.Context, w Wallet) tea.Cmd {
	return func() tea.Msg {
		w.RequestDeactivation(ctx)
		return DeactivatedMsg{}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.connectors.ScrollUp()
		case key.Matches(msg, m.keys.Down):
			m.connectors.ScrollDown()
		case key.Matches(msg, m.keys.Connect):
			name := m.connectors.Selected()
			if name == "" || m.connectors.Disabled(name) {
				return m, nil
			}
			return m, activate(m.ctx, m.wallet, name)
		case key.Matches(msg, m.keys.Disconnect):
			if !m.view.Active && m.view.Error == nil {
				return m, nil
			}
			return m, deactivate(m.ctx, m.wallet)
		case key.Matches(msg, m.keys.Clear):
			m.errors = m.errors[:0]
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case ViewMsg:
		m.apply(msg.View)
		return m, waitForView(m.views)

	case ActivationDoneMsg:
		if msg.Err != nil {
			m.addError(fmt.Sprintf("%s: %v", msg.Connector, msg.Err))
		}
		return m, nil

	case DeactivatedMsg:
		m.apply(m.wallet.View())
		return m, nil

	case ErrorMsg:
		m.addError(msg.Error.Error())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(v app.View) {
	m.view = v
	m.status.Update(v)
	m.connectors.Update(v)
}

func (m *Model) addError(msg string) {
	if len(m.errors) == maxErrors {
		m.errors = append(m.errors[:0], m.errors[1:]...)
	}
	m.errors = append(m.errors, ErrorEntry{Message: msg, Timestamp: time.Now()})
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "\n  Goodbye!\n\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle(m.view).Render(" Wallet "))
	b.WriteString("\n\n")

	status := m.status.View()
	list := sectionStyle.Render("CONNECTORS") + "\n\n" + m.connectors.View(m.spinner.View())

	if m.width > 80 {
		left := boxStyle.Width(m.width/2 - 2).Render(status)
		right := boxStyle.Width(m.width/2 - 2).Render(list)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	} else {
		b.WriteString(boxStyle.Render(status))
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(list))
	}
	b.WriteString("\n\n")

	if m.view.SessionURI != "" {
		b.WriteString(sectionStyle.Render("PAIRING URI"))
		b.WriteString("\n")
		b.WriteString(uriStyle.Render(m.view.SessionURI))
		b.WriteString("\n\n")
	}

	if !m.view.EagerTried {
		b.WriteString(mutedStyle.Render(m.spinner.View() + " looking for an authorized wallet"))
		b.WriteString("\n\n")
	} else if e := m.view.EagerError; e != nil && !m.view.Active {
		b.WriteString(mutedStyle.Render("no authorized wallet: " + e.Message()))
		b.WriteString("\n\n")
	}

	if len(m.errors) > 0 {
		b.WriteString(errorStyle.Bold(true).Render("ERRORS"))
		b.WriteString(mutedStyle.Render(" (e: clear)"))
		b.WriteString("\n")
		for _, e := range m.errors {
			ago := time.Since(e.Timestamp).Round(time.Second)
			b.WriteString(errorStyle.Render("  • " + e.Message + " "))
			b.WriteString(mutedStyle.Render(fmt.Sprintf("(%s ago)", ago)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(m.help.View(m.keys)))

	return b.String()
}
