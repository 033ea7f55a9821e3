// Package app is the Bubble Tea model behind `watchr status`.
package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/watchr/watchr/internal/tui/client"
	"github.com/watchr/watchr/internal/tui/theme"
)

type property struct {
	value   string
	changed time.Time
	count   int
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	host   string
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	props map[string]*property
	order []string

	connected     bool
	reconnects    int
	lastHeartbeat time.Time
	lastErr       error
}

func New(ws *client.WSClient, host string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:     ws,
		host:   host,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		props:  make(map[string]*property),
	}
}

func (m Model) Init() tea.Cmd {
	return m.ws.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.ws.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case client.ConnectedMsg:
		m.connected = true
		m.lastErr = nil
		// The host resends every value on join.
		m.props = make(map[string]*property)
		m.order = nil
		return m, m.ws.ReadLoop(m.ctx)

	case client.DisconnectedMsg:
		m.connected = false
		m.reconnects++
		m.lastErr = msg.Err
		return m, m.ws.Reconnect(m.ctx)

	case client.HeartbeatMsg:
		m.lastHeartbeat = msg.At
		return m, m.ws.ReadLoop(m.ctx)

	case client.UpdateMsg:
		m.apply(msg)
		return m, m.ws.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m *Model) apply(msg client.UpdateMsg) {
	name := msg.Update.Property
	p, ok := m.props[name]
	if !ok {
		p = &property{}
		m.props[name] = p
		m.order = append(m.order, name)
		sort.Strings(m.order)
	}
	p.value = msg.Update.Value
	p.changed = msg.At
	p.count++
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderStatus(),
		m.renderProperties(),
		m.help.View(m.keys),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatus() string {
	var conn string
	if m.connected {
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Reconnecting...")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := conn + sep + m.host
	if m.reconnects > 0 {
		content += sep + fmt.Sprintf("%d drops", m.reconnects)
	}
	if !m.lastHeartbeat.IsZero() {
		content += sep + "heartbeat " + m.lastHeartbeat.Format("15:04:05")
	}
	if !m.connected && m.lastErr != nil {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(m.lastErr.Error())
	}

	width := m.width
	if width < 40 {
		width = 40
	}
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderProperties() string {
	lines := []string{theme.StyleHeader.Render("PLAYER")}

	if pause, ok := m.props["pause"]; ok {
		lines = append(lines, "  "+theme.PauseGlyph(pause.value))
	}
	if pos, ok := m.props["playback-time"]; ok {
		lines = append(lines, "  "+FormatPosition(pos.value))
	}

	lines = append(lines, "", theme.StyleHeader.Render("PROPERTIES"))
	if len(m.order) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  Waiting for the host..."))
	}
	for _, name := range m.order {
		p := m.props[name]
		lines = append(lines, fmt.Sprintf("  %-20s %-16s %s",
			name, p.value,
			theme.StyleDimmed.Render(fmt.Sprintf("%d updates, last %s", p.count, p.changed.Format("15:04:05")))))
	}

	return theme.StyleBorder.Padding(0, 1).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// FormatPosition renders a playback-time value as h:mm:ss, or as-is when it
// is not a number.
func FormatPosition(value string) string {
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return value
	}
	d := time.Duration(secs * float64(time.Second))
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%02d:%02d", mins, s)
}
