// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/service"
	"github.com/vault-streak/internal/types"
)

// Service interfaces for dependency injection and testing

// StreakServiceInterface defines the streak operations exposed over HTTP
type StreakServiceInterface interface {
	LogEvent(ctx context.Context, input *service.LogEventInput) (*service.LogEventResult, error)
	GetStreak(ctx context.Context, wallet, vaultID string) (*service.StreakView, error)
	ListEvents(ctx context.Context, wallet, vaultID string, limit int) ([]types.StreakEvent, error)
}

// ActivityQuerier answers analytics queries over archived events
type ActivityQuerier interface {
	DailyActiveWallets(ctx context.Context, vaultID string, from, to string) (map[string]uint64, error)
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	streakService StreakServiceInterface
	activity      ActivityQuerier
	checks        map[string]HealthChecker
	gatherer      prometheus.Gatherer
	metrics       *metrics.Metrics
	logger        *logging.Logger
	config        *ServerConfig
	now           func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int // Requests per second per client
	RateLimitBurst  int
}

// ServerDeps groups the optional collaborators of the server
type ServerDeps struct {
	Activity ActivityQuerier          // nil disables the activity endpoint
	Checks   map[string]HealthChecker // Dependencies reported by /health
	Gatherer prometheus.Gatherer      // Source for /metrics; defaults to the global registry
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, streakService StreakServiceInterface, deps ServerDeps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewUnregistered()
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:        mux.NewRouter(),
		streakService: streakService,
		activity:      deps.Activity,
		checks:        deps.Checks,
		gatherer:      deps.Gatherer,
		metrics:       deps.Metrics,
		logger:        deps.Logger.WithField("component", "api"),
		config:        config,
		now:           time.Now,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(MonitorMiddleware(s.metrics))
	s.router.Use(CORSMiddleware)

	s.setupRoutes(RateLimitMiddleware(rateLimiter))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes. Operational endpoints are not rate limited.
func (s *Server) setupRoutes(rateLimit mux.MiddlewareFunc) {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(rateLimit)

	// Streak endpoints
	api.HandleFunc("/streaks/events", s.handleLogEvent).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/streaks/{wallet}/{vaultId}", s.handleGetStreak).Methods(http.MethodGet)
	api.HandleFunc("/streaks/{wallet}/{vaultId}/events", s.handleListEvents).Methods(http.MethodGet)

	// Milestone endpoints
	api.HandleFunc("/milestones", s.handleListMilestones).Methods(http.MethodGet)
	api.HandleFunc("/milestones/{current}", s.handleGetMilestoneProgress).Methods(http.MethodGet)

	// Analytics endpoints
	api.HandleFunc("/vaults/{vaultId}/activity", s.handleVaultActivity).Methods(http.MethodGet)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "vault-streak",
		"dependencies": deps,
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
