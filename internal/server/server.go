// Package server exposes the session operations over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/logger"
	"github.com/raaihank/moltkeeper/internal/session"
	"github.com/raaihank/moltkeeper/internal/web"
	"github.com/raaihank/moltkeeper/internal/websocket"
)

// Version is reported by /info and the CLI.
var Version = "0.1.0"

// Server represents the tool server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	service *session.Service
	wsHub   *websocket.Hub
	runs    RunLog
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHub serves the event hub on the configured WebSocket path.
func WithHub(hub *websocket.Hub) Option {
	return func(s *Server) { s.wsHub = hub }
}

// WithRunLog serves ledger queries on /runs.
func WithRunLog(runs RunLog) Option {
	return func(s *Server) { s.runs = runs }
}

// New creates a new server instance
func New(cfg *config.Config, svc *session.Service, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		service: svc,
		limiter: NewRateLimiter(cfg.Server.RateLimit),
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// The hub hijacks the connection, so it stays outside the wrapped
	// subrouters.
	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
		s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")
	}

	tools := s.router.PathPrefix("/tools").Subrouter()
	tools.Use(s.loggingMiddleware)
	tools.Use(s.rateLimitMiddleware)
	tools.Use(s.timeoutMiddleware)
	tools.HandleFunc("/read_safe_structure", s.handleReadSafeStructure).Methods("POST")
	tools.HandleFunc("/submit_optimization", s.handleSubmitOptimization).Methods("POST")
	tools.HandleFunc("/list_policies", s.handleListPolicies).Methods("GET")
	tools.HandleFunc("/get_vault_info", s.handleGetVaultInfo).Methods("GET")
	tools.HandleFunc("/rehydrate", s.handleRehydrate).Methods("POST")

	if s.runs != nil {
		runs := s.loggingMiddleware(s.rateLimitMiddleware(http.HandlerFunc(s.handleRuns)))
		s.router.Handle("/runs", runs).Methods("GET")
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called. Idle rate
// limiter entries are pruned until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MoltKeeper server",
		zap.String("addr", s.server.Addr),
		zap.String("version", Version),
		zap.Bool("websocket", s.wsHub != nil && s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.Server.RateLimit.Enabled),
	)

	go s.limiter.Run(ctx)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping MoltKeeper server")
	return s.server.Shutdown(ctx)
}
