package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sydlexius/media-reaper/internal/api/middleware"
	"github.com/sydlexius/media-reaper/internal/auth"
	"github.com/sydlexius/media-reaper/internal/backup"
	"github.com/sydlexius/media-reaper/internal/maintenance"
	"github.com/sydlexius/media-reaper/internal/metrics"
	"github.com/sydlexius/media-reaper/internal/registry"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Registry     *registry.Registry
	AuthService  *auth.Service
	Metrics      *metrics.Metrics
	Maintenance  *maintenance.Service
	Backups      *backup.Service
	LoginLimiter *middleware.LoginRateLimiter
	Logger       *slog.Logger
	BasePath     string
	SessionTTL   time.Duration
}

// Router sets up all HTTP routes for the application.
type Router struct {
	registry     *registry.Registry
	authService  *auth.Service
	metrics      *metrics.Metrics
	maintenance  *maintenance.Service
	backups      *backup.Service
	loginLimiter *middleware.LoginRateLimiter
	logger       *slog.Logger
	basePath     string
	sessionTTL   time.Duration
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Router{
		registry:     deps.Registry,
		authService:  deps.AuthService,
		metrics:      deps.Metrics,
		maintenance:  deps.Maintenance,
		backups:      deps.Backups,
		loginLimiter: deps.LoginLimiter,
		logger:       deps.Logger.With(slog.String("component", "api")),
		basePath:     deps.BasePath,
		sessionTTL:   ttl,
	}
}

// Handler returns the root http.Handler.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath
	authMw := middleware.Auth(r.authService)

	// Public
	mux.HandleFunc("GET "+bp+"/api/health", r.handleHealth)
	login := http.Handler(http.HandlerFunc(r.handleLogin))
	if r.loginLimiter != nil {
		login = r.loginLimiter.Middleware(login)
	}
	mux.Handle("POST "+bp+"/api/auth/login", login)
	if r.metrics != nil {
		mux.Handle("GET "+bp+"/metrics", r.metrics.Handler())
	}

	// Authenticated
	mux.Handle("POST "+bp+"/api/auth/logout", wrapAuth(r.handleLogout, authMw))
	mux.Handle("GET "+bp+"/api/auth/me", wrapAuth(r.handleMe, authMw))

	mux.Handle("GET "+bp+"/api/connections", wrapAuth(r.handleListConnections, authMw))
	mux.Handle("POST "+bp+"/api/connections", wrapAuth(r.handleCreateConnection, authMw))
	mux.Handle("POST "+bp+"/api/connections/test", wrapAuth(r.handleTestUnsaved, authMw))
	mux.Handle("GET "+bp+"/api/connections/{id}", wrapAuth(r.handleGetConnection, authMw))
	mux.Handle("PUT "+bp+"/api/connections/{id}", wrapAuth(r.handleUpdateConnection, authMw))
	mux.Handle("DELETE "+bp+"/api/connections/{id}", wrapAuth(r.handleDeleteConnection, authMw))
	mux.Handle("POST "+bp+"/api/connections/{id}/test", wrapAuth(r.handleTestSaved, authMw))

	if r.maintenance != nil {
		mux.Handle("GET "+bp+"/api/system/database", wrapAuth(r.handleDatabaseStatus, authMw))
		mux.Handle("POST "+bp+"/api/system/database/optimize", wrapAuth(r.handleDatabaseOptimize, authMw))
	}
	if r.backups != nil {
		mux.Handle("GET "+bp+"/api/system/backups", wrapAuth(r.handleListBackups, authMw))
		mux.Handle("POST "+bp+"/api/system/backups", wrapAuth(r.handleCreateBackup, authMw))
	}

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}

func wrapAuth(fn http.HandlerFunc, mw func(http.Handler) http.Handler) http.Handler {
	return mw(fn)
}
