package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/httputil"
	"github.com/dashborion/dashborion/pkg/middleware"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/saml"
)

type authHandlers struct {
	sessions *auth.SessionManager
	issuer   *auth.TokenIssuer
	auditor  audit.Logger
	logger   *observability.Logger
}

// identityResponse is the /auth/me body.
type identityResponse struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name,omitempty"`
	Method      auth.Method `json:"method"`
	Groups      []string    `json:"groups,omitempty"`
	Permissions interface{} `json:"permissions"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// Me returns the caller's resolved identity and permissions.
func (h *authHandlers) Me(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	resp := identityResponse{
		Email:       ac.Email,
		DisplayName: ac.DisplayName,
		Method:      ac.Method,
		Groups:      ac.Groups,
		Permissions: ac.Permissions,
	}
	if !ac.ExpiresAt.IsZero() {
		resp.ExpiresAt = &ac.ExpiresAt
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Logout destroys the caller's credential: the session for cookie auth, the
// presented token for bearer auth. SigV4 callers have nothing to revoke.
func (h *authHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	switch ac.Method {
	case auth.MethodCookie:
		if ac.SessionID != "" {
			if err := h.sessions.Revoke(r.Context(), ac.SessionID); err != nil {
				h.logger.WithError(err).Error("failed to revoke session")
				httputil.WriteInternalError(w, err)
				return
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     saml.SessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	case auth.MethodBearer:
		if raw := bearerToken(r); raw != "" {
			if err := h.issuer.Revoke(r.Context(), raw); err != nil {
				h.logger.WithError(err).Error("failed to revoke token")
				httputil.WriteInternalError(w, err)
				return
			}
		}
	}

	h.auditor.Log(r.Context(), audit.Entry{
		Actor:     ac.Email,
		Action:    audit.ActionLogout,
		Outcome:   audit.OutcomeSuccess,
		IP:        middleware.ClientIP(r),
		RequestID: observability.GetRequestID(r.Context()),
		Metadata:  map[string]interface{}{"method": string(ac.Method)},
	})

	httputil.WriteSuccessMessage(w, "logged out", nil)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a rotated pair. This endpoint is
// unauthenticated; the refresh token is the credential.
func (h *authHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RefreshToken, "refresh_token") {
		return
	}

	pair, err := h.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if autherr.IsDenial(err) {
			h.auditor.Log(r.Context(), audit.Entry{
				Action:    audit.ActionTokenRefresh,
				Outcome:   audit.OutcomeDenied,
				Detail:    err.Error(),
				IP:        middleware.ClientIP(r),
				RequestID: observability.GetRequestID(r.Context()),
			})
			httputil.WriteUnauthorized(w, "authentication failed")
			return
		}
		h.logger.WithError(err).Error("token refresh failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditor.Log(r.Context(), audit.Entry{
		Action:    audit.ActionTokenRefresh,
		Outcome:   audit.OutcomeSuccess,
		IP:        middleware.ClientIP(r),
		RequestID: observability.GetRequestID(r.Context()),
	})
	httputil.WriteJSON(w, http.StatusOK, pair)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
