package auth

import "context"

type contextKey string

const authContextKey contextKey = "auth_context"

// ContextWithAuth attaches the authenticated identity to the request
// context.
func ContextWithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext returns the authenticated identity, or nil when the request
// never passed authentication.
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey).(*AuthContext)
	return ac
}
