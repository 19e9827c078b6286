package auth

import (
	"time"

	"github.com/dashborion/dashborion/pkg/rbac"
)

// Method identifies which credential authenticated a request.
type Method string

const (
	MethodCookie Method = "cookie"
	MethodBearer Method = "bearer"
	MethodSigV4  Method = "sigv4"
)

// TokenKind distinguishes the persisted token classes.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
	TokenKindDevice  TokenKind = "device"
)

// Default TTLs per token kind.
const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
	SessionTTL      = 12 * time.Hour
)

// Session is the authenticated identity persisted for a browser sign-in and
// embedded (encrypted) in issued tokens.
type Session struct {
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name,omitempty"`
	Groups      []string          `json:"groups,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
	IssuedAt    time.Time         `json:"issued_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	MFAVerified bool              `json:"mfa_verified"`
	IPAddress   string            `json:"ip_address,omitempty"`
}

// Expired reports whether the session TTL has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthContext is the uniform authorization result handed to the rest of the
// dashboard. Exactly one authentication method produced it.
type AuthContext struct {
	Method      Method
	UserID      string
	Email       string
	DisplayName string
	Groups      []string
	Permissions []rbac.Permission
	SessionID   string    // set for cookie auth
	ExpiresAt   time.Time // credential expiry, zero for SigV4 proofs
	MFAVerified bool
}

// CanPerform evaluates the attached permission set against an action.
func (ac *AuthContext) CanPerform(action rbac.Action, project, environment, resource string) bool {
	return rbac.CanPerform(ac.Permissions, action, project, environment, resource)
}

// TokenPair is the result of device-flow issuance or a refresh exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
