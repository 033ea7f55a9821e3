package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/watchr/watchr/internal/logger"
	"github.com/watchr/watchr/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

type ServerOptions struct {
	MediaPath      string
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// Server is the host's HTTP surface: the join endpoint, the media file and
// the metrics scrape.
type Server struct {
	broadcaster    *Broadcaster
	mediaPath      string
	writeTimeout   time.Duration
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	origins        []string
	log            *slog.Logger
	metrics        *metrics.Metrics
}

func NewServer(broadcaster *Broadcaster, opts ServerOptions, log *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		broadcaster:    broadcaster,
		mediaPath:      opts.MediaPath,
		writeTimeout:   opts.WriteTimeout,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            log,
		metrics:        m,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.origins = append(s.origins, trimmed)
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Router builds the chi router for the host.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(s.log))
	r.Use(metrics.RequestMiddleware(s.metrics))

	r.Get("/api", s.handleWS)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	media := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(http.HandlerFunc(s.handleMedia))
	r.Method(http.MethodGet, "/media.mkv", media)
	r.Method(http.MethodHead, "/media.mkv", media)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.log.Info("peer attempting to connect", "remote", remoteIP(r))

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newWSSession(conn, s.writeTimeout)
	if err := s.broadcaster.Register(sess); err != nil {
		s.log.Warn("peer rejected", "remote", r.RemoteAddr, "session", sess.ID(), "error", err)
		if errors.Is(err, ErrTooManyConnections) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		sess.Close()
		return
	}

	go func() {
		defer s.broadcaster.Remove(sess)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.mediaPath == "" {
		http.Error(w, "no media", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(s.mediaPath); err != nil {
		s.log.Error("media unavailable", "path", s.mediaPath, "error", err)
		http.Error(w, "media unavailable", http.StatusInternalServerError)
		return
	}
	http.ServeFile(w, r, s.mediaPath)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Host == r.Host
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return host
}

// ListenAndServe runs handler on host:port until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, log *slog.Logger) error {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	srv := &http.Server{Addr: addr, Handler: handler}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", addr, err)
	}
	log.Info("server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
