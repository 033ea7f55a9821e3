package ws

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchr/watchr/internal/logger"
	"github.com/watchr/watchr/internal/metrics"
	"github.com/watchr/watchr/internal/property"
)

type testHost struct {
	srv         *httptest.Server
	store       *property.Store
	broadcaster *Broadcaster
	mediaPath   string
}

func newTestHost(t *testing.T, maxPeers int) *testHost {
	t.Helper()

	mediaPath := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(mediaPath, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	log := logger.Discard()
	store := property.NewStore()
	b := NewBroadcaster(store, NewCoalescer([]string{"playback-time"}, 0.1, log, nil),
		BroadcasterOptions{MaxPeers: maxPeers}, log, nil)
	s := NewServer(b, ServerOptions{MediaPath: mediaPath, WriteTimeout: time.Second}, log, metrics.New())

	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		b.Stop()
		srv.Close()
	})
	return &testHost{srv: srv, store: store, broadcaster: b, mediaPath: mediaPath}
}

func (h *testHost) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api"
}

func (h *testHost) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSessions polls until the broadcaster has n members.
func waitForSessions(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.SessionCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("SessionCount = %d, want %d", b.SessionCount(), n)
}

func readUpdate(t *testing.T, conn *websocket.Conn) Update {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", typ)
	}
	u, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return u
}

func TestServer_JoinReceivesStateThenUpdates(t *testing.T) {
	h := newTestHost(t, 0)
	h.store.Upsert("pause", "true")
	h.store.Upsert("playback-time", "42.0")

	conn := h.dial(t)
	waitForSessions(t, h.broadcaster, 1)

	h.store.Upsert("pause", "false")
	h.broadcaster.Broadcast(Update{Property: "pause", Value: "false"})

	want := []Update{
		{Property: "pause", Value: "true"},
		{Property: "playback-time", Value: "42.0"},
		{Property: "pause", Value: "false"},
	}
	for i, w := range want {
		if got := readUpdate(t, conn); got != w {
			t.Errorf("frame %d = %v, want %v", i, got, w)
		}
	}
}

func TestServer_HeartbeatIsSingleZeroByte(t *testing.T) {
	h := newTestHost(t, 0)
	conn := h.dial(t)
	waitForSessions(t, h.broadcaster, 1)

	h.broadcaster.Probe()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || len(data) != 1 || data[0] != 0 {
		t.Errorf("heartbeat = (%d, %q), want binary 0x00", typ, data)
	}
}

func TestServer_PeerCloseRemovesSession(t *testing.T) {
	h := newTestHost(t, 0)
	conn := h.dial(t)
	waitForSessions(t, h.broadcaster, 1)

	conn.Close()
	waitForSessions(t, h.broadcaster, 0)
}

func TestServer_DeadPeerReapedByBroadcast(t *testing.T) {
	h := newTestHost(t, 0)
	alive := h.dial(t)
	dead := h.dial(t)
	waitForSessions(t, h.broadcaster, 2)

	dead.UnderlyingConn().Close()
	// Either the read loop or a failed write drops it.
	deadline := time.Now().Add(2 * time.Second)
	for h.broadcaster.SessionCount() != 1 && time.Now().Before(deadline) {
		h.broadcaster.Probe()
		time.Sleep(10 * time.Millisecond)
	}
	if h.broadcaster.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d, want 1", h.broadcaster.SessionCount())
	}

	h.broadcaster.Broadcast(Update{Property: "pause", Value: "yes"})
	for {
		alive.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := alive.ReadMessage()
		if err != nil {
			t.Fatalf("survivor read: %v", err)
		}
		if IsHeartbeat(data) {
			continue
		}
		if string(data) != "pause\x00yes" {
			t.Errorf("survivor got %q", data)
		}
		return
	}
}

func TestServer_MaxPeersRejects(t *testing.T) {
	h := newTestHost(t, 1)
	h.dial(t)
	waitForSessions(t, h.broadcaster, 1)

	conn := h.dial(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
	if h.broadcaster.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", h.broadcaster.SessionCount())
	}
}

func TestServer_Media(t *testing.T) {
	h := newTestHost(t, 0)

	resp, err := http.Get(h.srv.URL + "/media.mkv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "0123456789" {
		t.Errorf("GET /media.mkv = %d %q", resp.StatusCode, body)
	}
}

func TestServer_MediaRange(t *testing.T) {
	h := newTestHost(t, 0)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/media.mkv", nil)
	req.Header.Set("Range", "bytes=2-4")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent || string(body) != "234" {
		t.Errorf("ranged GET = %d %q", resp.StatusCode, body)
	}
}

func TestServer_MediaMissing(t *testing.T) {
	h := newTestHost(t, 0)
	os.Remove(h.mediaPath)

	resp, err := http.Get(h.srv.URL + "/media.mkv")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	h := newTestHost(t, 0)

	resp, err := http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "watchr_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "host:1", true},
		{"same host", nil, "http://host:1", "host:1", true},
		{"foreign host", nil, "http://evil.example", "host:1", false},
		{"allowed list exact", []string{"http://app.example"}, "http://app.example", "host:1", true},
		{"allowed list host match", []string{"https://app.example"}, "http://app.example", "host:1", true},
		{"allowed list miss", []string{"http://app.example"}, "http://other.example", "host:1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, ServerOptions{AllowedOrigins: tt.allowed}, logger.Discard(), nil)
			r := httptest.NewRequest(http.MethodGet, "/api", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}
