package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/watchr/watchr/internal/tui/client"
	"github.com/watchr/watchr/internal/ws"
)

func sized(m Model) Model {
	m.width = 80
	m.height = 24
	return m
}

func TestFormatPosition(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.000000", "00:00"},
		{"65.5", "01:05"},
		{"3725.2", "1:02:05"},
		{"bogus", "bogus"},
		{"-1", "-1"},
	}
	for _, tt := range tests {
		if got := FormatPosition(tt.in); got != tt.want {
			t.Errorf("FormatPosition(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpdatesAreShown(t *testing.T) {
	m := sized(New(nil, "10.0.0.5:63063"))

	next, _ := m.Update(client.ConnectedMsg{})
	m = next.(Model)
	now := time.Now()
	for _, u := range []ws.Update{
		{Property: "pause", Value: "yes"},
		{Property: "playback-time", Value: "65.5"},
		{Property: "pause", Value: "no"},
	} {
		next, _ = m.Update(client.UpdateMsg{Update: u, At: now})
		m = next.(Model)
	}

	if got := m.props["pause"].count; got != 2 {
		t.Errorf("pause count = %d, want 2", got)
	}
	if len(m.order) != 2 || m.order[0] != "pause" || m.order[1] != "playback-time" {
		t.Errorf("order = %v", m.order)
	}

	v := m.View()
	for _, want := range []string{"Connected", "10.0.0.5:63063", "playing", "01:05"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDisconnectShowsReconnecting(t *testing.T) {
	m := sized(New(nil, "host"))
	next, _ := m.Update(client.ConnectedMsg{})
	m = next.(Model)
	next, _ = m.Update(client.DisconnectedMsg{Err: errors.New("connection reset")})
	m = next.(Model)

	if m.connected {
		t.Fatal("still connected")
	}
	v := m.View()
	if !strings.Contains(v, "Reconnecting") {
		t.Error("view should say Reconnecting")
	}
	if !strings.Contains(v, "connection reset") {
		t.Error("view should show the last error")
	}
	if !strings.Contains(v, "1 drops") {
		t.Error("view should count drops")
	}
}

func TestReconnectClearsStaleValues(t *testing.T) {
	m := sized(New(nil, "host"))
	next, _ := m.Update(client.UpdateMsg{Update: ws.Update{Property: "pause", Value: "yes"}, At: time.Now()})
	m = next.(Model)
	next, _ = m.Update(client.ConnectedMsg{})
	m = next.(Model)

	if len(m.props) != 0 || len(m.order) != 0 {
		t.Errorf("expected a clean slate after reconnect, got %v", m.order)
	}
	if !strings.Contains(m.View(), "Waiting for the host") {
		t.Error("empty view should be waiting for the host")
	}
}
