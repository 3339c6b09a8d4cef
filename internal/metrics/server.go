package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// HealthFunc reports whether the monitor is healthy. A non-nil error turns
// /healthz into a 503 carrying the error text.
type HealthFunc func() error

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealth installs the /healthz check. Without one /healthz always succeeds.
func WithHealth(fn HealthFunc) ServerOption {
	return func(s *Server) { s.health = fn }
}

// Server exposes the Prometheus registry and a health probe over HTTP.
type Server struct {
	addr   string
	path   string
	health HealthFunc
	http   *http.Server
}

// NewServer creates a metrics server listening on addr. path defaults to /metrics.
func NewServer(addr, path string, opts ...ServerOption) *Server {
	if path == "" {
		path = "/metrics"
	}
	s := &Server{addr: addr, path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the mux served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are only logged.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("metrics server listening", "addr", s.addr, "path", s.path)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string {
	return s.addr
}

// Stop shuts the server down, waiting at most five seconds for open requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	slog.Info("metrics server stopped")
	return nil
}
