package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zgpcy/oci-cost-sync/internal/config"
	"github.com/zgpcy/oci-cost-sync/internal/costcache"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/scheduler"
	"github.com/zgpcy/oci-cost-sync/internal/utilization"
	"github.com/zgpcy/oci-cost-sync/internal/version"
)

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 3 * time.Minute  // Covers one coalesced upstream cost fetch
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

// CostReader serves cost reads
type CostReader interface {
	GetCosts(ctx context.Context, user string, period provider.Period, f costcache.Filter) (*costcache.Result, error)
	Stats(ctx context.Context, user string) (*costcache.Stats, error)
}

// ResourceReader serves the durable inventory and samples
type ResourceReader interface {
	ListResources(ctx context.Context, user string, family provider.Family, includeDeleted bool) ([]provider.Resource, error)
	Samples(ctx context.Context, resourceID, metricName string) ([]provider.MetricSample, error)
}

// Jobs starts and reports scheduler executions
type Jobs interface {
	TriggerResourceSync(user string) (string, error)
	TriggerMetricsSync(user string, days int) (string, error)
	TriggerRollover(period provider.Period) (string, error)
	Execution(id string) (scheduler.Execution, bool)
	Executions(job scheduler.JobName) []scheduler.Execution
}

// Health reports readiness
type Health interface {
	IsReady() bool
	LastError() error
	LastRefreshTime() time.Time
}

// UserSource lists the known users
type UserSource interface {
	Users(ctx context.Context) ([]string, error)
}

// Dependencies are the components the handlers call into
type Dependencies struct {
	Costs     CostReader
	Resources ResourceReader
	Jobs      Jobs
	Health    Health
	Users     UserSource
	Metrics   http.Handler // typically promhttp.HandlerFor(registry, ...)
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
	deps   Dependencies
	logger *logger.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Dependencies, log *logger.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      router,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		router: router,
		deps:   deps,
		logger: log.Component("server"),
	}

	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	// Register handlers
	router.Get("/", s.handleIndex)
	router.Get("/health", s.handleHealth)
	router.Get("/ready", s.handleReady)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	router.Route("/v1", func(r chi.Router) {
		r.Get("/costs/{user}", s.handleCosts)
		r.Get("/stats/{user}", s.handleStats)
		r.Get("/resources/{user}/{family}", s.handleResources)
		r.Get("/samples/{resource}/{metric}", s.handleSamples)

		r.Post("/sync/resources", s.handleSyncResources)
		r.Post("/sync/resources/{user}", s.handleSyncResources)
		r.Post("/sync/metrics", s.handleSyncMetrics)
		r.Post("/sync/metrics/{user}", s.handleSyncMetrics)
		r.Post("/rollover/{period}", s.handleRollover)

		r.Get("/executions", s.handleExecutions)
		r.Get("/executions/{id}", s.handleExecution)
	})

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestLogger logs every request at debug level
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_seconds", time.Since(start).Seconds())
	})
}

// handleIndex lists the endpoints and the service status
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	lastRefresh := "never"
	if t := s.deps.Health.LastRefreshTime(); !t.IsZero() {
		lastRefresh = t.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":      "oci-cost-sync",
		"version":      version.Version,
		"ready":        s.deps.Health.IsReady(),
		"last_refresh": lastRefresh,
		"endpoints": []string{
			"GET /health",
			"GET /ready",
			"GET /metrics",
			"GET /v1/costs/{user}?period=&service=&refresh=",
			"GET /v1/stats/{user}",
			"GET /v1/resources/{user}/{family}?deleted=",
			"GET /v1/samples/{resource}/{metric}",
			"POST /v1/sync/resources[/{user}]",
			"POST /v1/sync/metrics[/{user}]?days=",
			"POST /v1/rollover/{period}",
			"GET /v1/executions?job=",
			"GET /v1/executions/{id}",
		},
	})
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		s.logger.Error("Failed to write health response", "error", err)
	}
}

// handleReady handles readiness check requests (returns 200 only when the store answered the last refresh)
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Health.IsReady() {
		body := map[string]string{"status": "not ready", "message": "waiting for initial state refresh"}
		if err := s.deps.Health.LastError(); err != nil {
			body["error"] = err.Error()
		}
		s.writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	user, ok := s.knownUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var period provider.Period
	if p := q.Get("period"); p != "" {
		parsed, err := provider.ParsePeriod(p)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		period = parsed
	}

	f := costcache.Filter{Service: q.Get("service"), ResourceIDs: q["resource"]}
	if v := q.Get("min_amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_amount %q", v))
			return
		}
		f.MinAmount = amount
	}
	if v := q.Get("refresh"); v != "" {
		refresh, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid refresh %q", v))
			return
		}
		f.Refresh = refresh
	}

	res, err := s.deps.Costs.GetCosts(r.Context(), user, period, f)
	if err != nil {
		s.writeCoreError(w, "get costs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.knownUser(w, r)
	if !ok {
		return
	}
	stats, err := s.deps.Costs.Stats(r.Context(), user)
	if err != nil {
		s.writeCoreError(w, "cost stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	user, ok := s.knownUser(w, r)
	if !ok {
		return
	}

	family := provider.Family(chi.URLParam(r, "family"))
	if !slices.Contains(provider.Families, family) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource family %q", family))
		return
	}

	includeDeleted := false
	if v := r.URL.Query().Get("deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid deleted %q", v))
			return
		}
		includeDeleted = b
	}

	resources, err := s.deps.Resources.ListResources(r.Context(), user, family, includeDeleted)
	if err != nil {
		s.writeCoreError(w, "list resources", err)
		return
	}
	if resources == nil {
		resources = []provider.Resource{}
	}
	s.writeJSON(w, http.StatusOK, resources)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.deps.Resources.Samples(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "metric"))
	if err != nil {
		s.writeCoreError(w, "list samples", err)
		return
	}
	if samples == nil {
		samples = []provider.MetricSample{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleSyncResources(w http.ResponseWriter, r *http.Request) {
	user := ""
	if chi.URLParam(r, "user") != "" {
		var ok bool
		if user, ok = s.knownUser(w, r); !ok {
			return
		}
	}
	id, err := s.deps.Jobs.TriggerResourceSync(user)
	s.writeTriggered(w, id, err)
}

func (s *Server) handleSyncMetrics(w http.ResponseWriter, r *http.Request) {
	user := ""
	if chi.URLParam(r, "user") != "" {
		var ok bool
		if user, ok = s.knownUser(w, r); !ok {
			return
		}
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid days %q", v))
			return
		}
		days = n
	}

	id, err := s.deps.Jobs.TriggerMetricsSync(user, days)
	s.writeTriggered(w, id, err)
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	period, err := provider.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.deps.Jobs.TriggerRollover(period)
	s.writeTriggered(w, id, err)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	var job scheduler.JobName
	if v := r.URL.Query().Get("job"); v != "" {
		parsed, ok := scheduler.ParseJob(v)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown job %q", v))
			return
		}
		job = parsed
	}
	execs := s.deps.Jobs.Executions(job)
	if execs == nil {
		execs = []scheduler.Execution{}
	}
	s.writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, ok := s.deps.Jobs.Execution(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("execution %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// knownUser reads the user path parameter and answers 404 for users the
// credential source does not list
func (s *Server) knownUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := chi.URLParam(r, "user")
	users, err := s.deps.Users.Users(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return "", false
	}
	if !slices.Contains(users, user) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown user %q", user))
		return "", false
	}
	return user, true
}

// writeTriggered answers a trigger with 202 and the execution id. A trigger
// skipped because the job is already running answers 409 with the id of the
// skipped execution.
func (s *Server) writeTriggered(w http.ResponseWriter, id string, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "status": string(scheduler.StatusRunning)})
	case errors.Is(err, scheduler.ErrJobRunning):
		s.writeJSON(w, http.StatusConflict, map[string]string{"execution_id": id, "status": string(scheduler.StatusSkipped), "error": err.Error()})
	case errors.Is(err, utilization.ErrInvalidLookback):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, costcache.ErrPeriodOpen):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeCoreError(w, "trigger", err)
	}
}

// writeCoreError maps a core error to a status code by its kind
func (s *Server) writeCoreError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "op", op, "error", err)
	}
	if provider.KindOf(err) == provider.RateLimited {
		w.Header().Set("Retry-After", "30")
	}
	s.writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, costcache.ErrFuturePeriod):
		return http.StatusBadRequest
	case errors.Is(err, costcache.ErrPeriodClosed), errors.Is(err, costcache.ErrPeriodOpen):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch provider.KindOf(err) {
	case provider.Permanent:
		return http.StatusUnprocessableEntity
	case provider.AuthExpired:
		return http.StatusBadGateway
	case provider.RateLimited:
		return http.StatusTooManyRequests
	case provider.Inconsistent:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
