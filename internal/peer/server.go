package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/client"
	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/metrics"
	apperrors "github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
	"github.com/facecontrol/face-remote/internal/pkg/middleware"
	"github.com/facecontrol/face-remote/internal/pkg/security"
)

// Config configures the peer server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port. 0 picks a free port.
	Port int

	// Version is reported by /healthz.
	Version string

	// RateLimit caps trigger POSTs per second per client IP. 0 disables it.
	RateLimit int

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// Hub configures the WebSocket hub.
	Hub HubConfig
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		Version:         "dev",
		ReadTimeout:     10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Hub:             DefaultHubConfig(),
	}
}

// ConfigFrom maps the peer section of the application config.
func ConfigFrom(cfg config.PeerConfig, version string) Config {
	c := DefaultConfig()
	c.Host = cfg.Host
	c.Port = cfg.Port
	c.RateLimit = cfg.RateLimit
	c.Version = version
	return c
}

// Server serves the peer's WebSocket and HTTP endpoints.
type Server struct {
	cfg        Config
	log        *logger.Logger
	hub        *Hub
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	keys       *catalog.Catalog
	handler    http.Handler
	httpServer *http.Server

	mu       sync.RWMutex
	started  bool
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records hub and HTTP metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCatalog sets the catalog used to validate HTTP triggers.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) { s.keys = c }
}

// New creates a server. eventBus may be nil.
func New(cfg Config, log *logger.Logger, eventBus bus.Bus, opts ...Option) *Server {
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:  cfg,
		log:  log.WithComponent("peer"),
		keys: catalog.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	s.hub = NewHub(cfg.Hub, log, s.metrics, eventBus)
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.ConfigForRate(cfg.RateLimit), log)
	}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /metrics/history", s.metrics.HistoryHandler())

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = metrics.HTTPMiddleware(s.metrics, h)
	return withLogging(h, s.log)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req client.TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid JSON body"))
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		apperrors.WriteError(w, apperrors.ValidationError("trigger key is required"))
		return
	}
	if err := security.ValidateKey(key); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}
	if err := security.ValidateAction(req.Action); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}
	if !s.keys.Contains(key) {
		apperrors.WriteError(w, apperrors.ValidationError("unknown trigger").WithDetail("key", key))
		return
	}

	n := s.hub.Broadcast(key)
	s.log.WithTrigger(key).Info("trigger received over HTTP", "action", security.SanitizeForLog(req.Action), "clients", n)

	writeJSON(w, http.StatusOK, client.TriggerResponse{Success: true, Clients: n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, client.HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Clients: s.hub.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens and serves until Stop is called. It returns nil after a
// graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	s.started = true
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting peer", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop disconnects all remotes and gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.hub.Close(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("hub close timed out")
	}

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down peer...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
		return err
	}

	s.started = false
	s.log.Info("Peer stopped")
	return nil
}

func withLogging(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", middleware.ClientIP(r),
			"duration", time.Since(start),
		)
	})
}
