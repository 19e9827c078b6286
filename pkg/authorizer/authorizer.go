package authorizer

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/httputil"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
)

// Authorizer dispatches each request through the ordered strategy list.
type Authorizer struct {
	strategies []Strategy
	auditor    audit.Logger
	logger     *observability.Logger
}

// New builds the authorizer. Order matters: the first strategy whose
// credential is present decides the request.
func New(auditor audit.Logger, logger *observability.Logger, strategies ...Strategy) *Authorizer {
	return &Authorizer{
		strategies: strategies,
		auditor:    auditor,
		logger:     logger,
	}
}

// Authorize evaluates the request. The returned error is nil exactly when
// an AuthContext was produced; on denial the internal reason is audited,
// and the caller must respond uniformly.
func (a *Authorizer) Authorize(ctx context.Context, r *http.Request) (*auth.AuthContext, error) {
	for _, s := range a.strategies {
		if !s.Applies(r) {
			continue
		}

		ac, err := s.Authenticate(ctx, r)
		if err != nil {
			a.auditDenial(ctx, r, s.Method(), err)
			return nil, err
		}

		return ac, nil
	}

	a.auditDenial(ctx, r, "", autherr.ErrAuthenticationFailed)
	return nil, autherr.ErrAuthenticationFailed
}

func (a *Authorizer) auditDenial(ctx context.Context, r *http.Request, method auth.Method, err error) {
	a.auditor.Log(ctx, audit.Entry{
		Action:    audit.ActionAuthorize,
		Outcome:   audit.OutcomeDenied,
		Target:    r.URL.Path,
		Detail:    err.Error(),
		IP:        clientIP(r),
		RequestID: observability.GetRequestID(ctx),
		Metadata:  map[string]interface{}{"method": string(method)},
	})
}

// Middleware rejects unauthenticated requests with a uniform 401 and
// attaches the AuthContext for handlers downstream.
func (a *Authorizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := a.Authorize(r.Context(), r)
		if err != nil {
			if autherr.IsDenial(err) {
				httputil.WriteUnauthorized(w, "authentication failed")
			} else {
				// Backend trouble is not a credential problem; never
				// mislabel it as one.
				httputil.WriteInternalError(w, err)
			}
			return
		}

		ctx := auth.ContextWithAuth(r.Context(), ac)
		ctx = observability.WithUserID(ctx, ac.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission guards a route with an RBAC check. Project and
// environment come from the route variables; the resource defaults to the
// wildcard.
func (a *Authorizer) RequirePermission(action rbac.Action, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.FromContext(r.Context())
		if ac == nil {
			httputil.WriteUnauthorized(w, "authentication failed")
			return
		}

		vars := mux.Vars(r)
		project := vars["project"]
		environment := vars["environment"]
		if project == "" {
			project = rbac.Wildcard
		}
		if environment == "" {
			environment = rbac.Wildcard
		}

		if !ac.CanPerform(action, project, environment, rbac.Wildcard) {
			a.auditor.Log(r.Context(), audit.Entry{
				Actor:   ac.Email,
				Action:  audit.ActionAuthorize,
				Outcome: audit.OutcomeDenied,
				Target:  project + "/" + environment,
				Detail:  "insufficient role for " + string(action),
				IP:      clientIP(r),
			})
			httputil.WriteForbidden(w, "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
