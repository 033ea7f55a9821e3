package mpv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/watchr/watchr/internal/ws"
)

// Applier writes received property updates into the local player, one
// command at a time.
type Applier struct {
	conn *Conn
	log  *slog.Logger
}

func NewApplier(conn *Conn, log *slog.Logger) *Applier {
	return &Applier{conn: conn, log: log}
}

// Init silences the player's event stream so only command responses come
// back on this connection.
func (a *Applier) Init() error {
	resp, err := a.conn.Request("disable_event", "all")
	if err != nil {
		return fmt.Errorf("disabling player events: %w", err)
	}
	if !resp.OK() {
		a.log.Warn("player refused to disable events", "error", resp.Error)
	}
	return nil
}

// Apply sets one property and waits for the player to acknowledge it. A
// rejected value is logged and skipped; only IPC failures are returned.
func (a *Applier) Apply(ctx context.Context, u ws.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := a.conn.Request("set_property_string", u.Property, u.Value)
	if err != nil {
		return fmt.Errorf("applying %s: %w", u.Property, err)
	}
	if !resp.OK() {
		a.log.Warn("player rejected property", "property", u.Property, "value", u.Value, "error", resp.Error)
		return nil
	}
	a.log.Debug("property applied", "property", u.Property, "value", u.Value)
	return nil
}
