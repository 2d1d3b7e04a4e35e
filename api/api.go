package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"opspulse/config"
	"opspulse/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// StateService is the operator-facing alert mutation surface
type StateService interface {
	GetAlert(ctx context.Context, fingerprint string) (*service.AlertView, error)
	Acknowledge(ctx context.Context, fingerprint, actorID string) (*service.AlertView, error)
	UpdateMetadata(ctx context.Context, fingerprint string, patch *service.MetadataPatch) (*service.AlertView, error)
	Reopen(ctx context.Context, fingerprint, traceID string) (*service.AlertView, error)
	ToggleStep(ctx context.Context, fingerprint, stepID string, checked bool, actorID string) (*service.AlertView, error)
}

// Evaluator triggers a full rule evaluation run
type Evaluator interface {
	RunEvaluation(ctx context.Context, actor service.Actor) (*service.EvaluationSummary, error)
}

// Aggregator builds the read-only operational overview
type Aggregator interface {
	GetAggregatedView(ctx context.Context, mode service.ScopeMode, includeNonProductive bool) (*service.AggregatedPayload, error)
}

// HealthChecker verifies the storage layer is reachable
type HealthChecker interface {
	HealthCheck() error
}

// API holds the HTTP server
type API struct {
	router         *mux.Router
	server         *http.Server
	state          StateService
	evaluator      Evaluator
	aggregator     Aggregator
	health         HealthChecker
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates a new API server
func NewAPI(state StateService, evaluator Evaluator, aggregator Aggregator, health HealthChecker, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		state:        state,
		evaluator:    evaluator,
		aggregator:   aggregator,
		health:       health,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/api/auth/login", a.login).Methods("POST")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	protected := a.router.PathPrefix("/api").Subrouter()
	if a.config.Auth.Enabled {
		protected.Use(a.jwtAuthMiddleware)
	}
	protected.HandleFunc("/overview", a.getOverview).Methods("GET")
	protected.HandleFunc("/evaluation/run", a.requireRole(service.RoleSuperadmin, a.runEvaluation)).Methods("POST")
	protected.HandleFunc("/alerts/{fingerprint}", a.getAlert).Methods("GET")
	protected.HandleFunc("/alerts/{fingerprint}/acknowledge", a.acknowledgeAlert).Methods("POST")
	protected.HandleFunc("/alerts/{fingerprint}/reopen", a.reopenAlert).Methods("POST")
	protected.HandleFunc("/alerts/{fingerprint}/metadata", a.patchAlertMetadata).Methods("PATCH")
	protected.HandleFunc("/alerts/{fingerprint}/steps/{stepId}", a.toggleAlertStep).Methods("POST")
}

// Start starts the API server
func (a *API) Start() error {
	addr := net.JoinHostPort(a.config.API.Host, strconv.Itoa(a.config.API.Port))
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.config.API.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.API.WriteTimeout) * time.Second,
	}
	a.logger.Infow("API server listening", "addr", addr)
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests
func (a *API) Handler() http.Handler {
	return a.router
}
