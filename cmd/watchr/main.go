package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/watchr/watchr/internal/config"
	"github.com/watchr/watchr/internal/logger"
	"github.com/watchr/watchr/internal/metrics"
	"github.com/watchr/watchr/internal/mpv"
	"github.com/watchr/watchr/internal/peer"
	"github.com/watchr/watchr/internal/property"
	"github.com/watchr/watchr/internal/tui/app"
	"github.com/watchr/watchr/internal/tui/client"
	"github.com/watchr/watchr/internal/ws"
	"golang.org/x/sync/errgroup"
)

const usage = `usage:
  watchr host --file <media> [--addr <bind>] [--port <port>] [--config <path>] [--mock]
  watchr connect --addr <host> [--port <port>] [--config <path>] [--mock]
  watchr status --addr <host> [--port <port>] [--config <path>]`

type options struct {
	addr       string
	port       int
	file       string
	configPath string
	mock       bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	role := os.Args[1]
	if role != "host" && role != "connect" && role != "status" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var opts options
	fs := flag.NewFlagSet(role, flag.ExitOnError)
	fs.StringVar(&opts.addr, "addr", "", "Address to bind (host) or host to join (connect)")
	fs.IntVar(&opts.port, "port", 0, "Override server port")
	fs.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config file")
	fs.BoolVar(&opts.mock, "mock", false, "Use a simulated player instead of mpv")
	if role == "host" {
		fs.StringVar(&opts.file, "file", "", "Media file to play and serve")
	}
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchr: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format).With("role", role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch role {
	case "host":
		err = runHost(ctx, cfg, opts, log)
	case "connect":
		err = runConnect(ctx, cfg, opts, log)
	case "status":
		err = runStatus(cfg, opts)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
	log.Info("shut down")
}

func loadConfig(opts options) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.addr != "" {
		cfg.Server.Host = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Paths().MakeDirs(); err != nil {
		return nil, fmt.Errorf("creating %s: %w", cfg.Dir, err)
	}
	return cfg, nil
}

func launchOptions(cfg *config.Config, role, media string, mock bool) mpv.LaunchOptions {
	paths := cfg.Paths()
	return mpv.LaunchOptions{
		Binary:         cfg.Player.Binary,
		ExtraArgs:      cfg.Player.ExtraArgs,
		MediaPath:      media,
		SocketPath:     paths.SocketPath(role),
		LogPath:        paths.PlayerLogPath(role),
		ReadyAttempts:  cfg.Player.ReadyAttempts,
		ReadyInterval:  cfg.Player.ReadyInterval,
		CommandTimeout: cfg.Player.CommandTimeout,
		Mock:           mock,
	}
}

func runHost(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger) error {
	if opts.file == "" {
		return errors.New("host needs --file")
	}
	if _, err := os.Stat(opts.file); err != nil {
		return fmt.Errorf("media file: %w", err)
	}

	m := metrics.New()
	store := property.NewStore()
	coalescer := ws.NewCoalescer(cfg.Sync.Coalesced, cfg.Sync.CoalesceThreshold, log, m)
	broadcaster := ws.NewBroadcaster(store, coalescer, ws.BroadcasterOptions{
		ProbeInterval: cfg.Sync.ProbeInterval,
		MaxPeers:      cfg.Server.MaxPeers,
	}, log, m)
	defer broadcaster.Stop()

	server := ws.NewServer(broadcaster, ws.ServerOptions{
		MediaPath:      opts.file,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Sync.WriteTimeout,
	}, log, m)

	player, err := mpv.Launch(ctx, launchOptions(cfg, "host", opts.file, opts.mock), log)
	if err != nil {
		return err
	}
	defer player.Close()

	host := mpv.NewHost(player.Conn(), cfg.Sync.Properties, broadcaster, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.ListenAndServe(gctx, cfg.Server.Host, cfg.Server.Port, server.Router(), log)
	})
	g.Go(func() error {
		return host.Run(gctx)
	})
	return g.Wait()
}

func runConnect(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger) error {
	if opts.addr == "" {
		return errors.New("connect needs --addr")
	}
	media := cfg.Paths().MediaFile()

	var player *mpv.Player
	defer func() {
		if player != nil {
			player.Close()
		}
	}()

	mgr := peer.NewManager(peer.Options{
		Addr:             opts.addr,
		Port:             cfg.Server.Port,
		ReconnectDelay:   cfg.Peer.ReconnectDelay,
		SettleDelay:      cfg.Peer.SettleDelay,
		HandshakeTimeout: cfg.Peer.HandshakeTimeout,
		Download: func(ctx context.Context, resume bool) error {
			return peer.Download(ctx, http.DefaultClient, peer.MediaURL(opts.addr, cfg.Server.Port), media, resume)
		},
		Launch: func(ctx context.Context) (peer.Applier, error) {
			p, err := mpv.Launch(ctx, launchOptions(cfg, "peer", media, opts.mock), log)
			if err != nil {
				return nil, err
			}
			player = p
			applier := mpv.NewApplier(p.Conn(), log)
			if err := applier.Init(); err != nil {
				return nil, err
			}
			return applier, nil
		},
		OnState: func(s peer.State) {
			log.Debug("peer state", "state", s)
		},
	}, log)

	return mgr.Run(ctx)
}

func runStatus(cfg *config.Config, opts options) error {
	if opts.addr == "" {
		return errors.New("status needs --addr")
	}
	hostPort := net.JoinHostPort(opts.addr, strconv.Itoa(cfg.Server.Port))
	c := client.NewWSClient("ws://" + hostPort + "/api")

	p := tea.NewProgram(app.New(c, hostPort), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
