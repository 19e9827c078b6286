package saml

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/httputil"
)

// SessionCookieName carries the encrypted-session id for browser clients.
const SessionCookieName = "dashborion_session"

// Handlers exposes the browser-facing SSO endpoints.
type Handlers struct {
	processor *Processor
	auditor   audit.Logger
	// DefaultRedirect is where the browser lands after login when no
	// RelayState was carried. Defaults to "/".
	DefaultRedirect string
	// SecureCookies should only be disabled for local development.
	SecureCookies bool
	sessionTTL    time.Duration
}

func NewHandlers(processor *Processor, auditor audit.Logger, sessionTTL time.Duration) *Handlers {
	return &Handlers{
		processor:       processor,
		auditor:         auditor,
		DefaultRedirect: "/",
		SecureCookies:   true,
		sessionTTL:      sessionTTL,
	}
}

// Login redirects the browser to the identity provider. RelayState carries
// the post-login destination, restricted to same-origin paths.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	relayState := r.URL.Query().Get("redirect")
	if !isSafeRedirect(relayState) {
		relayState = ""
	}

	url, err := h.processor.provider.BuildLoginURL(relayState)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// ACS consumes the IdP's POST, validates the assertion and sets the session
// cookie. All failures produce the same generic 401.
func (h *Handlers) ACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	sessionID, sess, err := h.processor.ProcessResponse(r.Context(), samlResponse, clientIP(r))
	if err != nil {
		h.auditor.Log(r.Context(), audit.Entry{
			Action:  audit.ActionLogin,
			Outcome: audit.OutcomeDenied,
			Detail:  "saml assertion rejected",
			IP:      clientIP(r),
		})
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	h.auditor.Log(r.Context(), audit.Entry{
		Actor:   sess.Email,
		Action:  audit.ActionLogin,
		Outcome: audit.OutcomeSuccess,
		Detail:  "saml",
		IP:      clientIP(r),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	redirect := r.FormValue("RelayState")
	if !isSafeRedirect(redirect) {
		redirect = h.DefaultRedirect
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// isSafeRedirect accepts only same-origin absolute paths, rejecting
// protocol-relative ("//evil.com") and absolute URLs.
func isSafeRedirect(target string) bool {
	if target == "" {
		return false
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return false
	}
	return !strings.Contains(target, "://")
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
