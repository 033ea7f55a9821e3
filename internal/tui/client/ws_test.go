package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchr/watchr/internal/ws"
)

func TestReadLoop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := ws.EncodeUpdate(ws.Update{Property: "pause", Value: "no"})
		conn.WriteMessage(websocket.BinaryMessage, frame)
		conn.WriteMessage(websocket.BinaryMessage, ws.Heartbeat)
		conn.WriteMessage(websocket.BinaryMessage, []byte("garbage"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http") + "/api")
	ctx := context.Background()

	if _, ok := c.Listen(ctx)().(ConnectedMsg); !ok {
		t.Fatal("expected ConnectedMsg")
	}

	msg := c.ReadLoop(ctx)()
	u, ok := msg.(UpdateMsg)
	if !ok || u.Update != (ws.Update{Property: "pause", Value: "no"}) {
		t.Fatalf("expected pause update, got %#v", msg)
	}
	if _, ok := c.ReadLoop(ctx)().(HeartbeatMsg); !ok {
		t.Fatal("expected HeartbeatMsg")
	}
	if _, ok := c.ReadLoop(ctx)().(DisconnectedMsg); !ok {
		t.Fatal("malformed frame should disconnect")
	}
	if _, ok := c.ReadLoop(ctx)().(DisconnectedMsg); !ok {
		t.Fatal("reading without a connection should report disconnected")
	}
}

func TestReconnect_WaitsBeforeDialing(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Malformed: no separator.
		conn.WriteMessage(websocket.BinaryMessage, []byte("garbage"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http") + "/api")
	c.delay = 150 * time.Millisecond
	ctx := context.Background()

	if _, ok := c.Listen(ctx)().(ConnectedMsg); !ok {
		t.Fatal("expected ConnectedMsg")
	}
	if _, ok := c.ReadLoop(ctx)().(DisconnectedMsg); !ok {
		t.Fatal("malformed frame should disconnect")
	}

	start := time.Now()
	if _, ok := c.Reconnect(ctx)().(ConnectedMsg); !ok {
		t.Fatal("expected ConnectedMsg after reconnect")
	}
	if elapsed := time.Since(start); elapsed < c.delay {
		t.Errorf("redialed after %v, want at least %v", elapsed, c.delay)
	}
	if n := dials.Load(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
	c.Close()
}

func TestReconnect_StopsOnCancel(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/api")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if msg := c.Reconnect(ctx)(); msg != nil {
		t.Errorf("expected nil after cancel, got %#v", msg)
	}
}
