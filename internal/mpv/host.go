package mpv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/watchr/watchr/internal/ws"
)

// Publisher records an update as the latest value and fans it out to
// connected peers in one step.
type Publisher interface {
	Commit(u ws.Update)
}

// Host observes properties on the local player and republishes every
// change.
type Host struct {
	conn       *Conn
	properties []string
	pub        Publisher
	log        *slog.Logger
}

func NewHost(conn *Conn, properties []string, pub Publisher, log *slog.Logger) *Host {
	return &Host{
		conn:       conn,
		properties: properties,
		pub:        pub,
		log:        log,
	}
}

// Run registers the observers and relays property changes until the player
// connection closes or ctx is cancelled. A closed connection after
// cancellation is reported as ctx.Err().
func (h *Host) Run(ctx context.Context) error {
	observed := make(map[string]bool, len(h.properties))
	for i, name := range h.properties {
		if err := h.conn.Send("observe_property_string", i+1, name); err != nil {
			return fmt.Errorf("observing %s: %w", name, err)
		}
		observed[name] = true
	}
	h.log.Info("observing player properties", "properties", h.properties)

	stop := context.AfterFunc(ctx, func() { h.conn.Close() })
	defer stop()

	for {
		line, err := h.conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return fmt.Errorf("player connection closed: %w", err)
			}
			return fmt.Errorf("reading from player: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		h.handleLine(line, observed)
	}
}

func (h *Host) handleLine(line []byte, observed map[string]bool) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		h.log.Debug("ignoring malformed player message", "line", string(line), "error", err)
		return
	}
	if ev.Event != "property-change" || !observed[ev.Name] || ev.Data == nil {
		return
	}

	h.pub.Commit(ws.Update{Property: ev.Name, Value: *ev.Data})
}
