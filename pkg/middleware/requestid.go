package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dashborion/dashborion/pkg/observability"
)

// RequestIDHeader is the inbound and outbound request ID header.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an ID, preferring one supplied by a
// trusted proxy. The ID is echoed in the response and stored in the
// context for loggers and the audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP extracts the client address, honoring X-Forwarded-For from a
// fronting proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}
