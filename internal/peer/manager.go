// Package peer keeps a local player in step with a remote host: it holds
// the WebSocket session open, reconnects when it drops, and applies every
// update it receives.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchr/watchr/internal/ws"
)

// Applier writes an update into the local player.
type Applier interface {
	Apply(ctx context.Context, u ws.Update) error
}

// Launcher starts the local player. It is called once per Run.
type Launcher func(ctx context.Context) (Applier, error)

// Downloader fetches the host's media file. resume is set when an earlier
// attempt failed and the partial file must be kept.
type Downloader func(ctx context.Context, resume bool) error

type Options struct {
	Addr             string
	Port             int
	ReconnectDelay   time.Duration
	SettleDelay      time.Duration
	HandshakeTimeout time.Duration
	Launch           Launcher
	Download         Downloader
	// OnState, when set, is called on every state transition.
	OnState func(State)
}

type Manager struct {
	opts   Options
	log    *slog.Logger
	dialer *websocket.Dialer

	state    atomic.Int32
	attempts atomic.Int64

	applier Applier

	dlMu      sync.Mutex
	dlRunning bool
	dlFailed  bool
}

func NewManager(opts Options, log *slog.Logger) *Manager {
	m := &Manager{
		opts: opts,
		log:  log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
	m.state.Store(int32(Connecting))
	return m
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Attempts counts connection attempts so far, successful or not.
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

// HostURL is the WebSocket endpoint of the host.
func (m *Manager) HostURL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(m.opts.Addr, strconv.Itoa(m.opts.Port)), Path: "/api"}
	return u.String()
}

// MediaURL is where the host serves its media file.
func MediaURL(addr string, port int) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(addr, strconv.Itoa(port)), Path: "/media.mkv"}
	return u.String()
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}

// Run loops until ctx is cancelled or the local player fails. Lost or
// refused connections are retried after ReconnectDelay without limit.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(Connecting)
		err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return fatal.err
		}

		m.setState(Disconnected)
		m.log.Warn("disconnected from host", "error", err, "retry_in", m.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.ReconnectDelay):
		}
	}
}

// fatalError ends Run instead of triggering a reconnect.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (m *Manager) session(ctx context.Context) error {
	m.attempts.Add(1)
	target := m.HostURL()

	conn, _, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", target, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	m.log.Info("connected to host", "url", target, "attempt", m.Attempts())

	m.setState(Syncing)
	if err := m.sync(ctx); err != nil {
		return err
	}

	m.setState(Streaming)
	return m.stream(ctx, conn)
}

// sync brings the local player up on the first session. Later sessions reuse
// it, only retrying a media download that failed.
func (m *Manager) sync(ctx context.Context) error {
	if m.applier != nil {
		m.dlMu.Lock()
		retry := m.dlFailed
		m.dlMu.Unlock()
		if retry {
			m.startDownload(ctx, true)
		}
		return nil
	}

	m.startDownload(ctx, false)

	if m.opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.SettleDelay):
		}
	}

	applier, err := m.opts.Launch(ctx)
	if err != nil {
		return &fatalError{err: fmt.Errorf("launching player: %w", err)}
	}
	m.applier = applier
	return nil
}

func (m *Manager) startDownload(ctx context.Context, resume bool) {
	if m.opts.Download == nil {
		return
	}

	m.dlMu.Lock()
	if m.dlRunning {
		m.dlMu.Unlock()
		return
	}
	m.dlRunning = true
	m.dlFailed = false
	m.dlMu.Unlock()

	go func() {
		err := m.opts.Download(ctx, resume)

		m.dlMu.Lock()
		m.dlRunning = false
		m.dlFailed = err != nil
		m.dlMu.Unlock()

		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn("media download failed", "error", err)
			}
			return
		}
		m.log.Info("media download complete")
	}()
}

func (m *Manager) stream(ctx context.Context, conn *websocket.Conn) error {
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading from host: %w", err)
		}
		if kind != websocket.BinaryMessage {
			m.log.Warn("ignoring non-binary message", "type", kind)
			continue
		}
		if ws.IsHeartbeat(frame) {
			continue
		}

		u, err := ws.DecodeFrame(frame)
		if err != nil {
			m.log.Warn("closing connection on malformed frame", "error", err)
			return err
		}

		if err := m.applier.Apply(ctx, u); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &fatalError{err: err}
		}
	}
}
