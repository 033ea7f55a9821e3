package mpv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/watchr/watchr/internal/mock"
)

// TimeoutError means the player never opened its control socket.
type TimeoutError struct {
	Path     string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for player socket %s after %d attempts", e.Path, e.Attempts)
}

// ErrPlayerExited is returned when the player process dies before its
// socket appears.
var ErrPlayerExited = errors.New("player exited before opening its control socket")

// WaitForSocket polls for path to exist, up to attempts times spaced by
// interval. A positive pid is checked between polls so a crashed player
// fails fast instead of burning the whole budget.
func WaitForSocket(ctx context.Context, path string, attempts int, interval time.Duration, pid int32) error {
	for left := attempts; ; left-- {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if left <= 0 {
			return &TimeoutError{Path: path, Attempts: attempts}
		}
		if pid > 0 && !processAlive(ctx, pid) {
			return ErrPlayerExited
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func processAlive(ctx context.Context, pid int32) bool {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return !errors.Is(err, process.ErrorProcessNotRunning)
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

type LaunchOptions struct {
	Binary     string
	ExtraArgs  []string
	MediaPath  string
	SocketPath string
	// LogPath receives the player's stdout and stderr. Empty discards them.
	LogPath        string
	ReadyAttempts  int
	ReadyInterval  time.Duration
	CommandTimeout time.Duration
	// Mock runs the simulated player in-process instead of Binary.
	Mock bool
}

// Player is a running player process and its control connection.
type Player struct {
	conn    *Conn
	cmd     *exec.Cmd
	sim     *mock.Player
	logFile *os.File
	cancel  context.CancelFunc
}

// Launch starts the player and connects to its control socket. A
// *TimeoutError means the socket never appeared; callers treat that as
// fatal rather than retrying.
func Launch(ctx context.Context, opts LaunchOptions, log *slog.Logger) (*Player, error) {
	os.Remove(opts.SocketPath)

	runCtx, cancel := context.WithCancel(ctx)
	p := &Player{cancel: cancel}

	var pid int32
	if opts.Mock {
		sim := mock.NewPlayer(0)
		if err := sim.Listen(opts.SocketPath); err != nil {
			cancel()
			return nil, fmt.Errorf("starting simulated player: %w", err)
		}
		sim.Start(runCtx)
		p.sim = sim
		log.Info("simulated player started", "socket", opts.SocketPath)
	} else {
		args := append([]string{"--input-ipc-server=" + opts.SocketPath}, opts.ExtraArgs...)
		args = append(args, opts.MediaPath)
		cmd := exec.CommandContext(runCtx, opts.Binary, args...)

		if opts.LogPath != "" {
			f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("opening player log: %w", err)
			}
			cmd.Stdout = f
			cmd.Stderr = f
			p.logFile = f
		}

		if err := cmd.Start(); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to start %s: %w", opts.Binary, err)
		}
		go cmd.Wait()
		p.cmd = cmd
		pid = int32(cmd.Process.Pid)
		log.Info("player started", "binary", opts.Binary, "pid", pid, "media", opts.MediaPath)
	}

	if err := WaitForSocket(ctx, opts.SocketPath, opts.ReadyAttempts, opts.ReadyInterval, pid); err != nil {
		p.Close()
		return nil, err
	}

	conn, err := Dial(opts.SocketPath, opts.CommandTimeout)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func (p *Player) Conn() *Conn {
	return p.conn
}

// Close disconnects and stops the player.
func (p *Player) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	if p.sim != nil {
		p.sim.Close()
	}
	p.cancel()
	if p.logFile != nil {
		p.logFile.Close()
	}
	return nil
}
