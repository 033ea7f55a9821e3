// Package client follows a host's update stream for the status view. It
// joins like any peer and turns frames into Bubble Tea messages.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/watchr/watchr/internal/ws"
)

const (
	reconnectDelay   = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

// WSClient holds the connection to the host's /api endpoint.
type WSClient struct {
	url    string
	dialer *websocket.Dialer
	delay  time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		delay:  reconnectDelay,
	}
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the session is established.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the session drops or cannot be opened.
type DisconnectedMsg struct{ Err error }

// UpdateMsg carries one property change from the host.
type UpdateMsg struct {
	Update ws.Update
	At     time.Time
}

// HeartbeatMsg records a liveness probe from the host.
type HeartbeatMsg struct{ At time.Time }

// Listen returns a command that dials the host, retrying every
// reconnectDelay until it succeeds or ctx ends.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return c.dial(ctx, 0)
}

// Reconnect is Listen after a dropped session: it waits reconnectDelay
// before the first dial too.
func (c *WSClient) Reconnect(ctx context.Context) tea.Cmd {
	return c.dial(ctx, c.delay)
}

func (c *WSClient) dial(ctx context.Context, wait time.Duration) tea.Cmd {
	return func() tea.Msg {
		for {
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}

			conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.mu.Lock()
				c.conn = conn
				c.mu.Unlock()
				return ConnectedMsg{}
			}
			if ctx.Err() != nil {
				return nil
			}
			wait = c.delay
		}
	}
}

// ReadLoop returns a command that yields the next message from the host.
// Call it again after every message it produces.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		for {
			kind, frame, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return DisconnectedMsg{Err: err}
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if ws.IsHeartbeat(frame) {
				return HeartbeatMsg{At: time.Now()}
			}
			u, err := ws.DecodeFrame(frame)
			if err != nil {
				c.drop(conn)
				return DisconnectedMsg{Err: err}
			}
			return UpdateMsg{Update: u, At: time.Now()}
		}
	}
}

// Close ends the current session, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}
