// Package tui provides the shared keymap/style vocabulary and the monitor
// screen for shmifctl, grounded on the teacher's internal/tui/screens
// servers list (bubbletea model, bubbles help/key, lipgloss styling)
// retargeted from Deephaven server discovery to SHMIF frameserver discovery.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/arcanshmif/shmifgo/internal/procscan"
)

// refreshInterval is how often the monitor screen re-runs discovery while
// idle, keeping the list current without the user having to act.
const refreshInterval = 2 * time.Second

type frameserversLoadedMsg struct {
	servers []procscan.Frameserver
	err     error
}

type tickMsg time.Time

type monitorKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Kill    key.Binding
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Kill, k.Refresh, k.Help, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Kill, k.Refresh},
		{k.Help, k.Quit},
	}
}

func defaultMonitorKeyMap() monitorKeyMap {
	return monitorKeyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Kill:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "kill")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// MonitorScreen lists running frameservers discovered via internal/procscan
// and lets the operator kill one from the keyboard.
type MonitorScreen struct {
	keys    monitorKeyMap
	help    help.Model
	servers []procscan.Frameserver
	cursor  int
	loading bool
	err     error
	status  string
	width   int
}

// NewMonitorScreen constructs the initial, empty monitor model.
func NewMonitorScreen() MonitorScreen {
	return MonitorScreen{
		keys:    defaultMonitorKeyMap(),
		help:    help.New(),
		loading: true,
	}
}

func (m MonitorScreen) Init() tea.Cmd {
	return tea.Batch(discoverFrameservers(), tick())
}

func discoverFrameservers() tea.Cmd {
	return func() tea.Msg {
		servers, err := procscan.Discover()
		return frameserversLoadedMsg{servers: servers, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(discoverFrameservers(), tick())

	case frameserversLoadedMsg:
		m.loading = false
		m.servers = msg.servers
		m.err = msg.err
		if m.cursor >= len(m.servers) {
			m.cursor = len(m.servers) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.servers)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, discoverFrameservers()
		case key.Matches(msg, m.keys.Kill):
			if m.cursor < len(m.servers) {
				target := m.servers[m.cursor]
				if err := procscan.Kill(target.PID); err != nil {
					m.status = fmt.Sprintf("kill pid %d: %v", target.PID, err)
				} else {
					m.status = fmt.Sprintf("killed pid %d", target.PID)
				}
				return m, discoverFrameservers()
			}
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m MonitorScreen) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Frameserver Monitor"))
	b.WriteString("\n")

	if m.loading && len(m.servers) == 0 {
		b.WriteString("  Discovering...\n")
		return b.String()
	}

	if m.err != nil {
		b.WriteString(StyleError.Render(fmt.Sprintf("  Error: %s", m.err)))
		b.WriteString("\n\n")
		b.WriteString(m.help.View(m.keys))
		return b.String()
	}

	if len(m.servers) == 0 {
		b.WriteString(StyleDim.Render("  No frameservers running."))
		b.WriteString("\n")
	} else {
		for i, s := range m.servers {
			detail := fmt.Sprintf("pid %-7d %-12s %s", s.PID, s.Archetype, s.Comm)
			if s.ConnPath != "" {
				detail += "  " + s.ConnPath
			}
			if i == m.cursor {
				b.WriteString(StyleSelected.Render("  > " + detail))
			} else {
				b.WriteString("    " + detail)
			}
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(StyleDim.Render("  " + m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}
