package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/subscription"
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int

	ControlTimeout time.Duration // Budget for commands issued over the API
	Retry          bool          // Use the relocating operations
}

// Deps are the components the server exposes. Subscriptions and Gatherer
// may be nil.
type Deps struct {
	Fleet         *device.Fleet
	Subscriptions *subscription.Manager
	Gatherer      prometheus.Gatherer
	Metrics       *metrics.Metrics
}

// Server is the monitoring HTTP server.
type Server struct {
	config Config
	deps   Deps
	hub    *Hub
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server. Nothing listens until Start or Serve.
func New(config Config, deps Deps) *Server {
	if config.ControlTimeout <= 0 {
		config.ControlTimeout = 3 * time.Second
	}
	if deps.Fleet == nil {
		deps.Fleet = device.NewFleet()
	}
	s := &Server{config: config, deps: deps, hub: NewHub(deps.Metrics)}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/{key}", s.handleDevice)
	mux.HandleFunc("POST /api/devices/{key}/{command}", s.handleCommand)
	mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptions)
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Notify is a subscription handler: it records the new state in the fleet
// and streams it to websocket clients.
func (s *Server) Notify(n subscription.Notification) {
	ev := Event{Host: n.Host, State: n.State.String(), Code: n.State.Code(), At: n.ReceivedAt}
	if st, ok := s.deps.Fleet.Status(n.Host); ok {
		ev.Serial = st.Serial
		s.deps.Fleet.Record(n.Host, n.State, nil)
	}
	s.hub.Broadcast(ev)
}

// Listen binds the configured address
func (s *Server) Listen() (net.Addr, error) {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Serve serves on the bound listener until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens and blocks until SIGINT/SIGTERM or a serve error
func (s *Server) Start() error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	logging.Info("Monitoring server listening", zap.String("addr", addr.String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve()
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

// Shutdown closes the listener and all websocket clients, then waits for
// in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		return s.http.Close()
	}
	return nil
}
