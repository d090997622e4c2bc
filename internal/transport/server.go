package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rickgao/peer-relay/internal/relay"
)

// Server upgrades HTTP requests to WebSocket connections and registers them with a relay.Registry.
type Server struct {
	cfg      Config
	registry *relay.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server

	mu   sync.Mutex
	addr string
}

// NewServer creates a server for registry.
func NewServer(cfg Config, registry *relay.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
	if !cfg.CheckOrigin {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.http = &http.Server{
		Addr:     cfg.Addr,
		Handler:  mux,
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return s
}

// Handler returns the HTTP handler serving WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the bound listen address once the server is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe listens on the configured address and serves until ctx is
// canceled, then closes every connection and the listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.registry.ReportError(err)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.registry.ReportListening(s.addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.registry.ReportError(err)
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every relay connection, then the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()
	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.ReportError(err)
		return
	}

	sock := newSocket(conn, s.cfg, s.logger)
	c := s.registry.Accept(sock, relay.RequestMeta{
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
	})
	sock.logger = s.logger.With("conn_id", c.ID())

	go sock.writeLoop()
	go sock.readLoop(c)
}
