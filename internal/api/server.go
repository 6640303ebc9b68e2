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

	"github.com/tao-dividends/internal/job"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/models"
	"github.com/tao-dividends/internal/types"
)

// DividendHandler serves dividend queries for a scope
type DividendHandler interface {
	Handle(ctx context.Context, scope types.QueryScope) (*types.DividendAggregate, error)
}

// OutcomeArchive reads job outcomes kept past the result store TTL
type OutcomeArchive interface {
	GetByJobID(ctx context.Context, jobID string) (*models.SentimentOutcomeRecord, error)
	ListByNetUID(ctx context.Context, netuid int, limit int) ([]*models.SentimentOutcomeRecord, error)
}

// EnqueueObserver is told when a trade job was accepted
type EnqueueObserver interface {
	Inc()
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	dividends  DividendHandler
	jobs       job.Submitter
	archive    OutcomeArchive
	enqueued   EnqueueObserver
	httpObs    HTTPObserver
	gatherer   prometheus.Gatherer
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	APIToken        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerSecond per client address; zero disables limiting
	RequestsPerSecond int
	DefaultNetUID     int
	DefaultHotkey     string
}

// Dependencies are the collaborators the server routes to
type Dependencies struct {
	Dividends DividendHandler
	// Jobs may be nil, in which case trade requests are only logged
	Jobs job.Submitter
	// Archive may be nil, in which case expired outcomes are 404
	Archive  OutcomeArchive
	Enqueued EnqueueObserver
	HTTP     HTTPObserver
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:    mux.NewRouter(),
		dividends: deps.Dividends,
		jobs:      deps.Jobs,
		archive:   deps.Archive,
		enqueued:  deps.Enqueued,
		httpObs:   deps.HTTP,
		gatherer:  gatherer,
		logger:    logger.WithField("component", "api"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, 0)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger, s.httpObs))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(BearerAuthMiddleware(s.config.APIToken))

	api.HandleFunc("/tao_dividends", s.handleGetDividends).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/outcomes", s.handleListOutcomes).Methods("GET")
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
