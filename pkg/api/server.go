package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/authorizer"
	"github.com/dashborion/dashborion/pkg/deviceflow"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/httputil"
	"github.com/dashborion/dashborion/pkg/middleware"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/saml"
)

// AuditSearcher is the slice of the audit store the admin API reads.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]audit.Entry, error)
}

// GrantDirectory manages stored permission grants.
type GrantDirectory interface {
	ListGrants(ctx context.Context, subject string) ([]directory.Grant, error)
	AddGrant(ctx context.Context, g directory.Grant) error
	RemoveGrant(ctx context.Context, id int64) error
}

// Server hosts the HTTP API.
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// Config carries the wired components the routes need.
type Config struct {
	Authorizer     *authorizer.Authorizer
	SAMLHandlers   *saml.Handlers
	DeviceHandlers *deviceflow.Handlers
	Sessions       *auth.SessionManager
	Issuer         *auth.TokenIssuer
	Auditor        audit.Logger
	AuditStore     AuditSearcher
	Directory      GrantDirectory
	RateLimit      func(http.Handler) http.Handler
	Logger         *observability.Logger
	Metrics        *observability.Metrics
}

// NewServer builds the router with all routes and middleware attached.
func NewServer(cfg Config) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: cfg.Logger,
	}
	s.routes(cfg)
	return s
}

// Handler returns the root handler, wrapped in the outermost middleware.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "dashborion")
}

func (s *Server) routes(cfg Config) {
	s.router.Use(middleware.RequestID)
	s.router.Use(httputil.RecoveryMiddleware(cfg.Logger))
	s.router.Use(httputil.LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	s.router.Use(httputil.MaxBytesMiddleware(1 << 20))

	rateLimited := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimit == nil {
			return h
		}
		return cfg.RateLimit(h)
	}

	// Browser SSO.
	if cfg.SAMLHandlers != nil {
		s.router.HandleFunc("/saml/login", cfg.SAMLHandlers.Login).Methods(http.MethodGet)
		s.router.HandleFunc("/saml/acs", cfg.SAMLHandlers.ACS).Methods(http.MethodPost)
	}

	// Device flow. Code and token are anonymous by design; verify requires
	// a browser session.
	s.router.Handle("/auth/device/code", rateLimited(cfg.DeviceHandlers.RequestCode)).Methods(http.MethodPost)
	s.router.Handle("/auth/device/token", rateLimited(cfg.DeviceHandlers.Token)).Methods(http.MethodPost)
	s.router.Handle("/auth/device/verify",
		cfg.Authorizer.Middleware(http.HandlerFunc(cfg.DeviceHandlers.Verify))).Methods(http.MethodPost)

	ah := &authHandlers{
		sessions: cfg.Sessions,
		issuer:   cfg.Issuer,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
	}
	s.router.Handle("/auth/token/refresh", rateLimited(ah.Refresh)).Methods(http.MethodPost)
	s.router.Handle("/auth/me", cfg.Authorizer.Middleware(http.HandlerFunc(ah.Me))).Methods(http.MethodGet)
	s.router.Handle("/auth/logout", cfg.Authorizer.Middleware(http.HandlerFunc(ah.Logout))).Methods(http.MethodPost)

	// Admin surface.
	adm := &adminHandlers{
		auditStore: cfg.AuditStore,
		directory:  cfg.Directory,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger,
	}
	protect := func(action rbac.Action, h http.HandlerFunc) http.Handler {
		return cfg.Authorizer.Middleware(cfg.Authorizer.RequirePermission(action, h))
	}
	s.router.Handle("/admin/audit", protect(rbac.ActionAuditRead, adm.SearchAudit)).Methods(http.MethodGet)
	s.router.Handle("/admin/audit/export", protect(rbac.ActionAuditRead, adm.ExportAudit)).Methods(http.MethodGet)
	s.router.Handle("/admin/grants", protect(rbac.ActionManage, adm.ListGrants)).Methods(http.MethodGet)
	s.router.Handle("/admin/grants", protect(rbac.ActionManage, adm.AddGrant)).Methods(http.MethodPost)
	s.router.Handle("/admin/grants/{id}", protect(rbac.ActionManage, adm.RemoveGrant)).Methods(http.MethodDelete)
}
