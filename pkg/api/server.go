package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/auth"
	"github.com/hivematrix/helm/pkg/idp"
	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/metricstore"
	"github.com/hivematrix/helm/pkg/types"
)

// requestTimeout bounds every request, including lifecycle operations
// that wait on a service's start deadline.
const requestTimeout = 60 * time.Second

// Catalog is the read side of the service registry.
type Catalog interface {
	List() []types.ServiceEntry
	Get(name string) (types.ServiceEntry, error)
}

// Controller drives service lifecycle and reports live status. The
// orchestrator implements it by joining the supervisor and monitor.
type Controller interface {
	Statuses() map[string]types.ServiceStatus
	Status(name string) (types.ServiceStatus, error)
	Start(ctx context.Context, name string, mode types.RunMode) (types.ServiceStatus, error)
	Stop(ctx context.Context, name string) (types.ServiceStatus, error)
	Restart(ctx context.Context, name string, mode types.RunMode) (types.ServiceStatus, error)
}

// LogStore is the centralized log table surface the API exposes.
// *logstore.Store satisfies it.
type LogStore interface {
	Ingest(ctx context.Context, entries []types.LogEntry) (int, error)
	Query(ctx context.Context, filter types.LogFilter) ([]types.LogEntry, error)
	Count(ctx context.Context, filter types.LogFilter) (int64, error)
	Get(ctx context.Context, id int64) (types.LogEntry, error)
	QueryStats(ctx context.Context, since time.Time) (logstore.Stats, error)
	ServiceLevelCounts(ctx context.Context, since time.Time) (map[string]map[types.LogLevel]int64, error)
}

// MetricHistory serves stored resource samples. *metricstore.Store
// satisfies it.
type MetricHistory interface {
	QuerySamples(q metricstore.Query) ([]types.MetricSample, error)
}

// Admin covers the operations only the orchestrator object can
// perform: master-config mutation and IDP reconciliation.
type Admin interface {
	ConfigSnapshot() *types.MasterConfig
	UpdateConfig(ctx context.Context, patch map[string]any) (*types.MasterConfig, error)
	BootstrapIDP(ctx context.Context) (*idp.BootstrapResult, error)
}

// Directory is the IDP user-management passthrough. *idp.Client
// satisfies it.
type Directory interface {
	ListUsers(ctx context.Context) ([]idp.User, error)
	GetUser(ctx context.Context, id string) (*idp.User, error)
	CreateUser(ctx context.Context, user idp.User) (string, error)
	UpdateUser(ctx context.Context, id string, fields map[string]any) error
	DeleteUser(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, password string, temporary bool) error
	ListGroups(ctx context.Context) ([]idp.Group, error)
	UserGroups(ctx context.Context, id string) ([]idp.Group, error)
	SetUserGroups(ctx context.Context, userID string, desired []string) (added, removed []string, err error)
}

// TokenVerifier resolves a bearer token into a caller identity.
// *auth.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.Identity, error)
}

// Config wires the control API to the orchestrator's subsystems.
// Catalog, Control, Logs, Admin and Verifier are required; History and
// Users may be nil, which turns their endpoints into errors instead of
// panics.
type Config struct {
	Addr     string
	Catalog  Catalog
	Control  Controller
	Logs     LogStore
	History  MetricHistory
	Admin    Admin
	Users    Directory
	Verifier TokenVerifier
	Logger   zerolog.Logger
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg    Config
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the server and its router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("api: listen address is required")
	}
	if cfg.Catalog == nil || cfg.Control == nil || cfg.Logs == nil || cfg.Admin == nil {
		return nil, fmt.Errorf("api: catalog, control, logs and admin backends are required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("api: token verifier is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "api").Logger(),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// Unauthenticated: the gateway probes /health like any managed
	// service's endpoint, and Prometheus scrapes /metrics.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/services", s.handleListServices)
		r.Get("/services/status", s.handleAllStatuses)
		r.Get("/services/{name}/status", s.handleServiceStatus)

		r.Post("/logs/ingest", s.handleIngestLogs)
		r.Get("/logs", s.handleQueryLogs)
		r.Get("/logs/stats", s.handleLogStats)
		r.Get("/logs/{id}", s.handleGetLog)

		r.Get("/metrics/{name}", s.handleMetricHistory)
		r.Get("/dashboard/status", s.handleDashboard)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/services/{name}/start", s.handleStart)
			r.Post("/services/{name}/stop", s.handleStop)
			r.Post("/services/{name}/restart", s.handleRestart)

			r.Get("/config", s.handleGetConfig)
			r.Post("/config", s.handleUpdateConfig)

			r.Post("/idp/bootstrap", s.handleBootstrapIDP)
			r.Get("/idp/users", s.handleListUsers)
			r.Post("/idp/users", s.handleCreateUser)
			r.Get("/idp/users/{id}", s.handleGetUser)
			r.Put("/idp/users/{id}", s.handleUpdateUser)
			r.Delete("/idp/users/{id}", s.handleDeleteUser)
			r.Put("/idp/users/{id}/password", s.handleResetPassword)
			r.Get("/idp/users/{id}/groups", s.handleUserGroups)
			r.Put("/idp/users/{id}/groups", s.handleSetUserGroups)
			r.Get("/idp/groups", s.handleListGroups)
		})
	})

	return r
}

// handleHealth serves the orchestrator's own health document. Always
// 200: reachability answers "up", the document carries the nuance.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetHealth())
}

// Start runs the HTTP server and blocks until Stop or a listener
// error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Control API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests until the context expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Control API shutting down")
	return s.http.Shutdown(ctx)
}
