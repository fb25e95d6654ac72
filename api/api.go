package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gatekeeper/config"
	"gatekeeper/core"
	"gatekeeper/detect"
	"gatekeeper/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RunStorer persists batch interpretation runs
type RunStorer interface {
	SaveRun(ctx context.Context, run *storage.TestRun) error
	GetRun(ctx context.Context, id string) (*storage.TestRun, error)
	ListRuns(ctx context.Context, limit int) ([]storage.TestRunSummary, error)
}

// AlertSuppressor decides whether an alert falls inside an open dedup window
type AlertSuppressor interface {
	ShouldSuppress(ctx context.Context, key string, period time.Duration) (bool, error)
}

// OutputResolver turns an execution result envelope into its execution outputs
type OutputResolver interface {
	Resolve(ctx context.Context, result *core.ExecutionResult) ([]core.ExecutionOutput, error)
}

// HealthChecker is implemented by backing stores that can report their health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies groups the components the API serves. Only Snippets and Batch are required;
// a nil Runs, Dedup or Resolver disables the endpoints that need it. Loaded holds the
// snippets preloaded from snippets.path, addressable by id.
type Dependencies struct {
	Snippets *detect.SnippetCache
	Loaded   map[string]*detect.Snippet
	Batch    *detect.BatchInterpreter
	Runs     RunStorer
	Dedup    AlertSuppressor
	Resolver OutputResolver
	Health   map[string]HealthChecker
}

// rateLimiterEntry holds a rate limiter and its last access time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API represents the REST API server
type API struct {
	router    *mux.Router
	server    *http.Server
	serverMu  sync.Mutex
	deps      Dependencies
	config    *config.Config
	logger    *zap.SugaredLogger
	validator *validator.Validate

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server
func NewAPI(deps Dependencies, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		deps:         deps,
		config:       cfg,
		logger:       logger,
		validator:    validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/prefilter", a.prefilter).Methods("POST")
	v1.HandleFunc("/snippets", a.listSnippets).Methods("GET")
	v1.HandleFunc("/snippets/{id}/prefilter", a.prefilterLoaded).Methods("POST")
	v1.HandleFunc("/interpret", a.interpret).Methods("POST")
	v1.HandleFunc("/interpret/batch", a.interpretBatch).Methods("POST")
	v1.HandleFunc("/results/resolve", a.resolveResult).Methods("POST")
	v1.HandleFunc("/alerts/decide", a.decideAlert).Methods("POST")
	v1.HandleFunc("/runs", a.listRuns).Methods("GET")
	v1.HandleFunc("/runs/{id}", a.getRun).Methods("GET")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed handler, used by tests and by Start
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server. It returns http.ErrServerClosed once Stop has been called.
func (a *API) Start(addr string) error {
	a.serverMu.Lock()
	select {
	case <-a.stopCh:
		a.serverMu.Unlock()
		return http.ErrServerClosed
	default:
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	a.server = server
	a.serverMu.Unlock()

	return server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.serverMu.Lock()
	a.stopOnce.Do(func() { close(a.stopCh) })
	server := a.server
	a.serverMu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
