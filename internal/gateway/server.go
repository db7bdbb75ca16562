// Package gateway exposes the HTTP control surface: a health endpoint, a
// read-only REST API over tracked state, a live event stream over WebSocket,
// and Prometheus metrics. Server is safe for concurrent use.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/poller"
	"github.com/issuebot/issuebot/internal/store"
)

// PollerStatus reports the scheduler's state for the status endpoint.
// *poller.Poller satisfies it.
type PollerStatus interface {
	Status() poller.Status
}

// Config wires the gateway's collaborators and network binding.
type Config struct {
	// Host is the interface to bind to. Empty means 127.0.0.1.
	Host string
	// Port is the TCP port to listen on. Zero means 8090.
	Port int

	// Username and Password enable basic auth on the API and event stream.
	// Auth is active only when both are set.
	Username string
	Password string

	Store    *store.Store
	Recorder *events.Recorder
	Poller   PollerStatus

	// Metrics and Gatherer normally share one registry. Either left nil
	// gets an isolated registry, which tests rely on.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Version is reported by the status endpoint.
	Version string
}

// Server serves the control surface.
type Server struct {
	config   Config
	auth     *authenticator
	hub      *hub
	upgrader websocket.Upgrader
	logger   *slog.Logger

	server *http.Server

	mu      sync.Mutex
	running bool
}

// New creates a gateway server. Nothing listens until Start is called.
func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8090
	}
	if cfg.Metrics == nil || cfg.Gatherer == nil {
		reg := prometheus.NewRegistry()
		if cfg.Metrics == nil {
			cfg.Metrics = metrics.New(reg)
		}
		if cfg.Gatherer == nil {
			cfg.Gatherer = reg
		}
	}

	s := &Server{
		config: cfg,
		hub:    newHub(),
		logger: logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Allow requests with no origin (same-origin, CLI tools).
				if origin == "" {
					return true
				}
				// Allow localhost origins for local dashboards.
				if strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1") {
					return true
				}
				// External sites cannot connect.
				return false
			},
		},
	}
	if cfg.Username != "" && cfg.Password != "" {
		s.auth = newAuthenticator(cfg.Username, cfg.Password)
	}
	return s
}

// Handler returns the gateway's routing table. Start serves it; tests mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	// API and event stream require credentials when configured.
	if s.auth != nil {
		mux.Handle("/api/v1/status", s.auth.middleware(http.HandlerFunc(s.handleStatus)))
		mux.Handle("/api/v1/repos", s.auth.middleware(http.HandlerFunc(s.handleRepos)))
		mux.Handle("/api/v1/issues", s.auth.middleware(http.HandlerFunc(s.handleIssues)))
		mux.Handle("/ws/events", s.auth.middleware(http.HandlerFunc(s.handleEvents)))
	} else {
		// No admin credentials configured - open access.
		mux.HandleFunc("/api/v1/status", s.handleStatus)
		mux.HandleFunc("/api/v1/repos", s.handleRepos)
		mux.HandleFunc("/api/v1/issues", s.handleIssues)
		mux.HandleFunc("/ws/events", s.handleEvents)
	}

	return mux
}

// Channel returns a notification channel that fans warnings and errors out
// to connected event-stream clients. Register it with the Notifier.
func (s *Server) Channel() events.Channel {
	return &wsChannel{hub: s.hub}
}

// Start serves the gateway and blocks until the context is cancelled or the
// listener fails. Returns an error if the server is already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server with a 30-second timeout. WebSocket
// clients are left to notice the closed listener on their own.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	s.logger.Info("Gateway stopped")
	return s.server.Shutdown(ctx)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
